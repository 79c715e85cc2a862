package captions

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/zsiec/refract/internal/media"
)

// seiMessage encodes one SEI message (payload type + size, 0xFF-extended).
func seiMessage(payloadType int, payload []byte) []byte {
	var out []byte
	for payloadType >= 255 {
		out = append(out, 0xFF)
		payloadType -= 255
	}
	out = append(out, byte(payloadType))
	size := len(payload)
	for size >= 255 {
		out = append(out, 0xFF)
		size -= 255
	}
	out = append(out, byte(size))
	return append(out, payload...)
}

func parity(b byte) byte {
	b &= 0x7F
	ones := 0
	for v := b; v != 0; v >>= 1 {
		ones += int(v & 1)
	}
	if ones%2 == 0 {
		return b | 0x80
	}
	return b
}

// captionSEI builds an H.264 SEI NAL (with start code) carrying one A/53
// cc_data triplet on field 1.
func captionSEI(cc1, cc2 byte) []byte {
	a53 := []byte{0xB5, 0x00, 0x31, 'G', 'A', '9', '4', 0x03, 0x40 | 1, 0xFF,
		0xFC, parity(cc1), parity(cc2), 0xFF}
	msg := append(seiMessage(4, a53), 0x80)
	return append([]byte{0, 0, 0, 1, 0x06}, msg...)
}

func slice(idr bool) []byte {
	if idr {
		return []byte{0, 0, 0, 1, 0x65, 0x88, 0x84}
	}
	return []byte{0, 0, 0, 1, 0x41, 0x9A, 0x02}
}

func TestLineString(t *testing.T) {
	t.Parallel()

	l := Line{PTS: 90000, Channel: 1, Text: "HELLO\nWORLD"}
	if got, want := l.String(), `90000 1 HELLO\nWORLD`; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestExtractorIgnoresPacketsWithoutSEI(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	e := NewExtractor(&out, nil)
	for i := 0; i < 5; i++ {
		pkt := &media.CodedPacket{Data: slice(i == 0), Codec: media.CodecH264, PTS: media.NoPTS, Seq: int64(i)}
		if err := e.Feed(pkt); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s := e.Stats(); s.Packets != 5 || s.SEI != 0 || s.Lines != 0 {
		t.Errorf("Stats = %+v", s)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestExtractorRollUp(t *testing.T) {
	t.Parallel()

	pairs := [][2]byte{
		{0x14, 0x25}, {0x14, 0x25}, // RU2
		{0x14, 0x2C}, {0x14, 0x2C}, // EDM
		{0x14, 0x60}, {0x14, 0x60}, // PAC row 14
		{'H', 'I'},
		{0x14, 0x2D}, {0x14, 0x2D}, // CR
	}

	var out bytes.Buffer
	e := NewExtractor(&out, nil)
	for i, p := range pairs {
		data := append(captionSEI(p[0], p[1]), slice(i == 0)...)
		pkt := &media.CodedPacket{Data: data, Codec: media.CodecH264, PTS: int64(i) * 3000, Seq: int64(i)}
		if err := e.Feed(pkt); err != nil {
			t.Fatalf("Feed %d: %v", i, err)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s := e.Stats(); s.SEI != int64(len(pairs)) {
		t.Errorf("SEI = %d, want %d", s.SEI, len(pairs))
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if out.Len() == 0 {
		lines = nil
	}
	if int64(len(lines)) != e.Stats().Lines {
		t.Fatalf("wrote %d lines, Stats says %d", len(lines), e.Stats().Lines)
	}
	for _, l := range lines {
		fields := strings.SplitN(l, " ", 3)
		if len(fields) != 3 {
			t.Fatalf("malformed line %q", l)
		}
		pts, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil || pts%3000 != 0 {
			t.Errorf("line %q: bad pts", l)
		}
		if fields[1] != "1" {
			t.Errorf("line %q: channel %s, want 1", l, fields[1])
		}
		if !strings.Contains(fields[2], "HI") {
			t.Errorf("line %q: text does not carry the caption", l)
		}
	}
}

type closeErrWriter struct{ bytes.Buffer }

func (*closeErrWriter) Close() error { return errors.New("sidecar vanished") }

func TestExtractorCloseError(t *testing.T) {
	t.Parallel()

	e := NewExtractor(&closeErrWriter{}, nil)
	if err := e.Close(); !errors.Is(err, media.ErrIO) {
		t.Fatalf("want ErrIO, got %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
