// Package codec defines the decoder and encoder session contracts used by
// the pipeline and the Stage state machine that enforces the send/receive
// protocol on top of them.
package codec

import (
	"errors"
	"fmt"

	"github.com/zsiec/refract/internal/media"
)

// Session signals. They are not failures: ErrAgain means the session cannot
// take input until output is drained (on send) or has no output ready (on
// receive); ErrEOF means a flushed session has no more output.
var (
	ErrAgain = errors.New("codec: try again")
	ErrEOF   = errors.New("codec: end of stream")
)

// Decoder is a decoding session. SendPacket(nil) starts flushing.
type Decoder interface {
	SendPacket(pkt *media.CodedPacket) error
	ReceiveFrame() (*media.DecodedFrame, error)
	Close() error
}

// Encoder is an encoding session. SendFrame(nil) starts flushing.
type Encoder interface {
	SendFrame(frame *media.DecodedFrame) error
	ReceivePacket() (*media.EncodedPacket, error)
	Close() error
}

// Backend opens codec sessions.
type Backend interface {
	Name() string
	// HasDecoder reports whether NewDecoder can succeed for codec.
	HasDecoder(codec media.CodecID) bool
	NewDecoder(codec media.CodecID, p DecoderParams) (Decoder, error)
	NewEncoder(p EncoderParams) (Encoder, error)
}

// DecoderParams configures a decoding session. Zero values let the
// decoder take everything from the bitstream.
type DecoderParams struct {
	// Extradata holds out-of-band parameter sets from a container.
	Extradata []byte
	Threads   int
}

// EncoderParams configures an encoding session.
type EncoderParams struct {
	Codec       media.CodecID
	PixelFormat media.PixelFormat
	BitRate     int64
	Width       int
	Height      int
	TimeBase    media.Rational
	FrameRate   media.Rational
	GOPSize     int
	MaxBFrames  int
	Preset      string
	Tune        string
}

// DefaultEncoderParams returns HEVC, yuv420p, 400 kb/s, 1920x1080 at 25
// fps with a GOP of 10, no B-frames, ultrafast preset and zerolatency tune.
func DefaultEncoderParams() EncoderParams {
	return EncoderParams{
		Codec:       media.CodecHEVC,
		PixelFormat: media.PixelFormatYUV420P,
		BitRate:     400_000,
		Width:       1920,
		Height:      1080,
		TimeBase:    media.Rational{Num: 1, Den: 25},
		FrameRate:   media.Rational{Num: 25, Den: 1},
		GOPSize:     10,
		MaxBFrames:  0,
		Preset:      "ultrafast",
		Tune:        "zerolatency",
	}
}

// Validate reports the first unusable field as a media.ErrConfig error.
func (p EncoderParams) Validate() error {
	var problem string
	switch {
	case p.Codec == media.CodecUnknown:
		problem = "codec must be set"
	case p.PixelFormat == "":
		problem = "pixel format must be set"
	case p.BitRate <= 0:
		problem = fmt.Sprintf("bit rate must be positive, got %d", p.BitRate)
	case p.Width <= 0 || p.Height <= 0:
		problem = fmt.Sprintf("size must be positive, got %dx%d", p.Width, p.Height)
	case p.TimeBase.Num <= 0 || p.TimeBase.Den <= 0:
		problem = fmt.Sprintf("invalid time base %v", p.TimeBase)
	case p.FrameRate.Num <= 0 || p.FrameRate.Den <= 0:
		problem = fmt.Sprintf("invalid frame rate %v", p.FrameRate)
	case p.GOPSize < 0:
		problem = fmt.Sprintf("gop size must not be negative, got %d", p.GOPSize)
	case p.MaxBFrames < 0:
		problem = fmt.Sprintf("max b-frames must not be negative, got %d", p.MaxBFrames)
	default:
		return nil
	}
	return media.Errorf("encoder", media.ErrConfig, "%s", problem)
}
