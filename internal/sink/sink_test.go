package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/zsiec/refract/internal/media"
)

type failingWriter struct {
	buf    bytes.Buffer
	failAt int // write call index that fails
	short  bool
	calls  int
	closeN int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	defer func() { w.calls++ }()
	if w.calls == w.failAt {
		if w.short {
			w.buf.Write(p[:1])
			return 1, nil
		}
		return 0, errors.New("no space left on device")
	}
	return w.buf.Write(p)
}

func (w *failingWriter) Close() error {
	w.closeN++
	return nil
}

func packets(payloads ...string) []*media.EncodedPacket {
	out := make([]*media.EncodedPacket, len(payloads))
	for i, p := range payloads {
		out[i] = &media.EncodedPacket{Data: []byte(p), Seq: int64(i)}
	}
	return out
}

func TestWriterConcatenates(t *testing.T) {
	t.Parallel()

	fw := &failingWriter{failAt: -1}
	w := NewWriter(fw, "mem")
	for _, p := range packets("abc", "", "de", "f") {
		if err := w.Write(p); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if got := fw.buf.String(); got != "abcdef" {
		t.Errorf("output = %q, want %q", got, "abcdef")
	}
	if s := w.Stats(); s.Packets != 4 || s.Bytes != 6 {
		t.Errorf("Stats = %+v, want 4 packets 6 bytes", s)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil || fw.closeN != 1 {
		t.Errorf("second Close = %v, underlying closes = %d", err, fw.closeN)
	}
	if err := w.Write(packets("x")[0]); !errors.Is(err, media.ErrIO) {
		t.Errorf("write after close: want ErrIO, got %v", err)
	}
}

func TestWriterStopsAfterFailure(t *testing.T) {
	t.Parallel()

	for _, short := range []bool{false, true} {
		fw := &failingWriter{failAt: 1, short: short}
		w := NewWriter(fw, "mem")
		pkts := packets("aa", "bb", "cc")

		if err := w.Write(pkts[0]); err != nil {
			t.Fatalf("first Write: %v", err)
		}
		err := w.Write(pkts[1])
		if !errors.Is(err, media.ErrIO) {
			t.Fatalf("short=%v: want ErrIO, got %v", short, err)
		}
		if short && !errors.Is(err, io.ErrShortWrite) {
			t.Errorf("short write cause lost: %v", err)
		}
		before := fw.buf.Len()
		if err := w.Write(pkts[2]); !errors.Is(err, media.ErrIO) {
			t.Errorf("write after failure: want ErrIO, got %v", err)
		}
		if fw.buf.Len() != before {
			t.Errorf("bytes appended after failure")
		}
		if w.Stats().Packets != 1 {
			t.Errorf("Packets = %d, want 1", w.Stats().Packets)
		}
	}
}

func TestCreateTruncates(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/out.hevc", []byte("stale contents"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := Create(fs, "/out.hevc")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Write(packets("new")[0]); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	got, _ := afero.ReadFile(fs, "/out.hevc")
	if string(got) != "new" {
		t.Errorf("file = %q, want %q", got, "new")
	}

	ro := afero.NewReadOnlyFs(fs)
	if _, err := Create(ro, "/other.hevc"); !errors.Is(err, media.ErrOpen) {
		t.Errorf("read-only fs: want ErrOpen, got %v", err)
	}
}

func TestOpenTargets(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	if _, err := Open(context.Background(), fs, "-", Options{}); !errors.Is(err, media.ErrConfig) {
		t.Errorf("stdout: want ErrConfig, got %v", err)
	}
	if _, err := Open(context.Background(), fs, "quic://nohost", Options{}); !errors.Is(err, media.ErrConfig) {
		t.Errorf("quic without port: want ErrConfig, got %v", err)
	}
	if _, err := Open(context.Background(), fs, "quic://127.0.0.1:4433?fingerprint=zz", Options{}); !errors.Is(err, media.ErrConfig) {
		t.Errorf("bad fingerprint: want ErrConfig, got %v", err)
	}
	w, err := Open(context.Background(), fs, "/a.hevc", Options{})
	if err != nil {
		t.Fatalf("file target: %v", err)
	}
	w.Close()
}

func TestQUICLoopback(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	r, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer r.Close()

	fs := afero.NewMemMapFs()
	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := r.Receive(ctx, fs, "/received.hevc")
		done <- result{n, err}
	}()

	url := "quic://" + r.Addr().String() + "?fingerprint=" + r.Fingerprint()
	w, err := DialQUIC(ctx, url, Options{})
	if err != nil {
		t.Fatalf("DialQUIC: %v", err)
	}
	var want []byte
	for i, p := range packets("\x00\x00\x00\x01\x40\x01", "\x00\x00\x00\x01\x26\x01\xAF", "\x00\x00\x00\x01\x02\x01\xD0") {
		if err := w.Write(p); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
		want = append(want, p.Data...)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("Receive: %v", res.err)
	}
	if res.n != int64(len(want)) {
		t.Errorf("received %d bytes, want %d", res.n, len(want))
	}
	got, _ := afero.ReadFile(fs, "/received.hevc")
	if !bytes.Equal(got, want) {
		t.Errorf("received %x, want %x", got, want)
	}
}

func TestQUICRejectsUnpinnedCertificate(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer r.Close()
	go r.Receive(ctx, afero.NewMemMapFs(), "/x")

	// Self-signed certificates do not verify against the system roots.
	if _, err := DialQUIC(ctx, "quic://"+r.Addr().String(), Options{}); !errors.Is(err, media.ErrOpen) {
		t.Errorf("want ErrOpen, got %v", err)
	}
}

func TestQUICReceiveCanceledMidStream(t *testing.T) {
	t.Parallel()

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelDial()
	recvCtx, cancelRecv := context.WithCancel(dialCtx)
	defer cancelRecv()

	r, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer r.Close()

	fs := afero.NewMemMapFs()
	done := make(chan error, 1)
	go func() {
		_, err := r.Receive(recvCtx, fs, "/partial.hevc")
		done <- err
	}()

	w, err := DialQUIC(dialCtx, "quic://"+r.Addr().String()+"?fingerprint="+r.Fingerprint(), Options{})
	if err != nil {
		t.Fatalf("DialQUIC: %v", err)
	}
	defer w.Close()
	if err := w.Write(&media.EncodedPacket{Data: []byte{0, 0, 0, 1, 0x26, 0x01, 0xAF}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// The receiver holds the stream open until the sender finishes; wait
	// for the output file to appear, then abort the copy.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if ok, _ := afero.Exists(fs, "/partial.hevc"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("receiver never accepted the stream")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancelRecv()

	select {
	case err := <-done:
		if !errors.Is(err, media.ErrIO) {
			t.Errorf("want ErrIO, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Receive did not return after cancellation")
	}
}
