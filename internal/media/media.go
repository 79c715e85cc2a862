// Package media defines the units that flow through the refract transcoding
// pipeline: raw input chunks, coded packets, decoded frames and encoded
// output packets.
package media

import "fmt"

// DefaultChunkSize is the number of bytes read from a raw byte source per
// read call.
const DefaultChunkSize = 4096

// NoPTS marks an unknown presentation or decode timestamp.
const NoPTS int64 = -1 << 63

// CodecID identifies a video bitstream syntax.
type CodecID int

// Codecs known to the pipeline.
const (
	CodecUnknown CodecID = iota
	CodecH264
	CodecHEVC
)

// String returns the short codec name used in flags and config files.
func (c CodecID) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecHEVC:
		return "hevc"
	default:
		return "unknown"
	}
}

// ParseCodecID maps a codec name to its CodecID. "auto" and "" map to
// CodecUnknown, meaning the codec is detected from the stream.
func ParseCodecID(s string) (CodecID, error) {
	switch s {
	case "", "auto":
		return CodecUnknown, nil
	case "h264", "avc":
		return CodecH264, nil
	case "hevc", "h265":
		return CodecHEVC, nil
	}
	return CodecUnknown, fmt.Errorf("unknown codec %q", s)
}

// PixelFormat names a raw picture layout, e.g. "yuv420p".
type PixelFormat string

// PixelFormatYUV420P is planar 8-bit 4:2:0, the encoder default.
const PixelFormatYUV420P PixelFormat = "yuv420p"

// Rational is a fraction such as a time base (1/25) or frame rate (25/1).
type Rational struct {
	Num int
	Den int
}

// String formats the rational as "num/den".
func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Chunk is a block of undecoded bytes read from a raw byte source. EOF is
// set only on a chunk that carries no data.
type Chunk struct {
	Data []byte
	EOF  bool
}

// CodedPacket is one compressed access unit produced by the access-unit
// parser or by a container demuxer. Ownership passes to the decoder stage.
type CodedPacket struct {
	Data        []byte
	StreamIndex int
	PTS         int64
	DTS         int64
	Keyframe    bool
	Codec       CodecID
	Seq         int64 // position in parse/demux order
}

// DecodedFrame is one decoded picture. Pixel data is opaque to the pipeline:
// backends keep their native frame in Opaque and may expose plain planes.
type DecodedFrame struct {
	Width       int
	Height      int
	PixelFormat PixelFormat
	FrameNumber int64 // monotonic decode order, starting at 0
	PTS         int64
	Planes      [][]byte
	Opaque      any

	release func()
}

// NewDecodedFrame wraps a backend frame. release, if non-nil, is called once
// by Release.
func NewDecodedFrame(width, height int, pf PixelFormat, opaque any, release func()) *DecodedFrame {
	return &DecodedFrame{
		Width:       width,
		Height:      height,
		PixelFormat: pf,
		PTS:         NoPTS,
		Opaque:      opaque,
		release:     release,
	}
}

// Release frees backend resources held by the frame. It is safe to call more
// than once.
func (f *DecodedFrame) Release() {
	if f == nil || f.release == nil {
		return
	}
	f.release()
	f.release = nil
}

// EncodedPacket is one compressed output unit produced by the encoder stage
// and written as-is to the sink.
type EncodedPacket struct {
	Data     []byte
	PTS      int64
	DTS      int64
	Keyframe bool
	Seq      int64 // position in encoder output order
}
