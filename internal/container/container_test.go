package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/mpegts"
	"github.com/zsiec/refract/internal/mpegts/tstest"
)

var (
	idrAU  = []byte{0, 0, 0, 1, 0x09, 0xF0, 0, 0, 0, 1, 0x65, 0x88, 0x84, 0x21}
	sliceP = []byte{0, 0, 0, 1, 0x09, 0x30, 0, 0, 0, 1, 0x41, 0x9A, 0x02, 0x10}
	adts   = []byte{0xFF, 0xF1, 0x50, 0x80, 0x01, 0x7F, 0xFC, 0x21}
)

func TestDetect(t *testing.T) {
	t.Parallel()

	ts := make([]byte, 400)
	ts[0], ts[188] = 0x47, 0x47

	tests := []struct {
		name string
		head []byte
		want Format
	}{
		{"capture.bin", ts, FormatTS},
		{"clip.mp4", []byte{0, 0, 0, 1, 0x67}, FormatRaw},
		{"clip.mp4", []byte{0, 0, 1, 0x67}, FormatRaw},
		{"srt://cam:9000", nil, FormatTS},
		{"capture.ts", []byte{0x47, 0x40}, FormatTS},
		{"CLIP.H264", []byte{0x12}, FormatRaw},
		{"clip.265", []byte{0x12}, FormatRaw},
		{"movie.mp4", []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p'}, FormatContainer},
		{"noext", []byte{0x1A, 0x45, 0xDF, 0xA3}, FormatContainer},
		// Nothing to sniff: raw mode decodes empty input to empty output.
		{"empty.ts", nil, FormatRaw},
		{"empty.bin", []byte{}, FormatRaw},
		{"capture", nil, FormatRaw},
		{"zeros.mp4", make([]byte, 32), FormatRaw},
	}
	for _, tc := range tests {
		if got := Detect(tc.name, tc.head); got != tc.want {
			t.Errorf("Detect(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Format{"": FormatAuto, "auto": FormatAuto, "RAW": FormatRaw, "ts": FormatTS, "container": FormatContainer} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("mkv"); !errors.Is(err, media.ErrConfig) {
		t.Errorf("want ErrConfig, got %v", err)
	}
}

func TestBestVideoStream(t *testing.T) {
	t.Parallel()

	all := func(media.CodecID) bool { return true }
	onlyHEVC := func(c media.CodecID) bool { return c == media.CodecHEVC }

	streams := []Stream{
		{Index: 0, Kind: KindAudio, CodecName: "aac"},
		{Index: 1, Kind: KindVideo, CodecName: "mpeg2video"},
		{Index: 2, Kind: KindVideo, Codec: media.CodecH264, CodecName: "h264"},
		{Index: 3, Kind: KindVideo, Codec: media.CodecHEVC, CodecName: "hevc"},
	}

	if s, err := BestVideoStream(streams, all); err != nil || s.Index != 2 {
		t.Errorf("all codecs: got stream %d, %v; want 2", s.Index, err)
	}
	if s, err := BestVideoStream(streams, onlyHEVC); err != nil || s.Index != 3 {
		t.Errorf("hevc only: got stream %d, %v; want 3", s.Index, err)
	}
	if _, err := BestVideoStream(streams[:2], all); !errors.Is(err, media.ErrConfig) {
		t.Errorf("no decodable video: want ErrConfig, got %v", err)
	}
	if _, err := BestVideoStream(streams[:1], all); !errors.Is(err, media.ErrConfig) {
		t.Errorf("audio only: want ErrConfig, got %v", err)
	}
}

func audioVideoTS(pictures int) []byte {
	var m tstest.Muxer
	m.PAT(0x1000)
	m.PMT(0x1000,
		tstest.Stream{PID: 0x101, StreamType: mpegts.StreamTypeAAC},
		tstest.Stream{PID: 0x100, StreamType: mpegts.StreamTypeH264},
	)
	for i := 0; i < pictures; i++ {
		m.PES(0x101, 0xC0, int64(i)*3600, adts)
		au := sliceP
		if i == 0 {
			au = idrAU
		}
		m.PES(0x100, 0xE0, 90000+int64(i)*3600, au)
	}
	return m.Bytes()
}

func TestOpenTS(t *testing.T) {
	t.Parallel()

	const pictures = 4
	rc := io.NopCloser(bytes.NewReader(audioVideoTS(pictures)))
	d, err := OpenTS(context.Background(), rc, nil)
	if err != nil {
		t.Fatalf("OpenTS: %v", err)
	}
	defer d.Close()

	streams := d.Streams()
	if len(streams) != 2 {
		t.Fatalf("got %d streams, want 2", len(streams))
	}
	if s := streams[0]; s.Index != 0 || s.Kind != KindAudio || s.PID != 0x101 {
		t.Errorf("stream 0 = %+v", s)
	}
	if s := streams[1]; s.Index != 1 || s.Kind != KindVideo || s.Codec != media.CodecH264 || s.PID != 0x100 {
		t.Errorf("stream 1 = %+v", s)
	}

	var video, audio []*media.CodedPacket
	for {
		pkt, err := d.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		switch pkt.StreamIndex {
		case 0:
			audio = append(audio, pkt)
		case 1:
			video = append(video, pkt)
		default:
			t.Fatalf("unexpected stream index %d", pkt.StreamIndex)
		}
	}

	if len(audio) != pictures || len(video) != pictures {
		t.Fatalf("got %d audio and %d video packets, want %d each", len(audio), len(video), pictures)
	}
	for i, p := range video {
		if want := 90000 + int64(i)*3600; p.PTS != want || p.DTS != want {
			t.Errorf("video %d: pts %d dts %d, want %d", i, p.PTS, p.DTS, want)
		}
		if p.Keyframe != (i == 0) {
			t.Errorf("video %d: keyframe = %v", i, p.Keyframe)
		}
		if p.Codec != media.CodecH264 {
			t.Errorf("video %d: codec %v", i, p.Codec)
		}
	}
	if !bytes.Equal(video[0].Data, idrAU) {
		t.Errorf("video 0 data = %x, want %x", video[0].Data, idrAU)
	}
	for i, p := range audio {
		if !bytes.Equal(p.Data, adts) || p.Keyframe {
			t.Errorf("audio %d = %x keyframe=%v", i, p.Data, p.Keyframe)
		}
	}
	if st := d.Stats(); st.Packets == 0 || st.Corrupt != 0 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestOpenTSWithoutPMT(t *testing.T) {
	t.Parallel()

	var m tstest.Muxer
	m.PAT(0x1000)
	m.PES(0x100, 0xE0, 0, idrAU)

	_, err := OpenTS(context.Background(), io.NopCloser(bytes.NewReader(m.Bytes())), nil)
	if !errors.Is(err, media.ErrOpen) {
		t.Fatalf("want ErrOpen, got %v", err)
	}
	if _, err := OpenTS(context.Background(), io.NopCloser(bytes.NewReader(nil)), nil); !errors.Is(err, media.ErrOpen) {
		t.Fatalf("empty stream: want ErrOpen, got %v", err)
	}
}

func TestOpenTSCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := OpenTS(ctx, io.NopCloser(bytes.NewReader(audioVideoTS(1))), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
