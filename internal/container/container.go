// Package container demultiplexes container inputs into coded packets of
// one stream each. MPEG-TS is read natively; other formats go through
// libavformat when built with -tags ffmpeg.
package container

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/zsiec/refract/internal/media"
)

// Kind is the media type of a container stream.
type Kind int

const (
	KindOther Kind = iota
	KindVideo
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "other"
	}
}

// Stream describes one elementary stream of a container. Index is the
// stream's position in the container (PMT order for MPEG-TS).
type Stream struct {
	Index     int
	Kind      Kind
	Codec     media.CodecID
	CodecName string
	PID       uint16 // MPEG-TS only
}

// Demuxer yields the coded packets of all streams in container order.
// ReadPacket returns io.EOF after the last packet.
type Demuxer interface {
	Streams() []Stream
	ReadPacket() (*media.CodedPacket, error)
	Close() error
}

// BestVideoStream returns the first video stream whose codec has a
// decoder, as reported by supported.
func BestVideoStream(streams []Stream, supported func(media.CodecID) bool) (Stream, error) {
	videos := 0
	for _, s := range streams {
		if s.Kind != KindVideo {
			continue
		}
		videos++
		if s.Codec != media.CodecUnknown && supported(s.Codec) {
			return s, nil
		}
	}
	if videos == 0 {
		return Stream{}, media.Errorf("demux", media.ErrConfig, "no video stream among %d streams", len(streams))
	}
	return Stream{}, media.Errorf("demux", media.ErrConfig, "no decoder for any of %d video streams", videos)
}

// Format is an input layout.
type Format string

const (
	FormatAuto      Format = "auto"
	FormatRaw       Format = "raw"       // Annex B elementary stream
	FormatTS        Format = "ts"        // MPEG-TS
	FormatContainer Format = "container" // anything libavformat opens
)

// ParseFormat validates a format name. The empty string means auto.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatRaw, FormatTS, FormatContainer:
		return f, nil
	}
	return "", media.Errorf("config", media.ErrConfig, "unknown input format %q", s)
}

// Detect picks the format of an input from its leading bytes, falling back
// to the file extension. head should hold at least two TS packets. Empty
// and all-zero heads are raw: they decode to nothing in raw mode, while a
// container reader would reject them.
func Detect(name string, head []byte) Format {
	if strings.HasPrefix(name, "srt://") {
		return FormatTS
	}
	if len(head) > 188 && head[0] == 0x47 && head[188] == 0x47 {
		return FormatTS
	}
	if bytes.HasPrefix(head, []byte{0, 0, 1}) || bytes.HasPrefix(head, []byte{0, 0, 0, 1}) {
		return FormatRaw
	}
	if len(bytes.Trim(head, "\x00")) == 0 {
		return FormatRaw
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ts", ".m2ts", ".mts":
		return FormatTS
	case ".h264", ".264", ".avc", ".h265", ".265", ".hevc", ".bit":
		return FormatRaw
	}
	return FormatContainer
}
