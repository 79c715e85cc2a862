//go:build !ffmpeg

package ffmpeg

import (
	"log/slog"

	"github.com/zsiec/refract/internal/codec"
	"github.com/zsiec/refract/internal/media"
)

// Available reports whether the binary was built with libav support.
const Available = false

// Backend reports every codec as missing when built without -tags ffmpeg.
type Backend struct{}

var _ codec.Backend = Backend{}

// New returns the stub backend.
func New(*slog.Logger) Backend { return Backend{} }

func (Backend) Name() string { return "ffmpeg (not compiled in)" }

func (Backend) HasDecoder(media.CodecID) bool { return false }

func (Backend) NewDecoder(c media.CodecID, _ codec.DecoderParams) (codec.Decoder, error) {
	return nil, media.Errorf("decoder", media.ErrConfig, "no %v decoder: built without -tags ffmpeg", c)
}

func (Backend) NewEncoder(p codec.EncoderParams) (codec.Encoder, error) {
	return nil, media.Errorf("encoder", media.ErrConfig, "no %v encoder: built without -tags ffmpeg", p.Codec)
}
