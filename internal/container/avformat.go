//go:build !ffmpeg

package container

import (
	"log/slog"

	"github.com/zsiec/refract/internal/media"
)

// OpenAVFormat needs libavformat; without -tags ffmpeg only MPEG-TS and raw
// elementary streams can be read.
func OpenAVFormat(path string, _ *slog.Logger) (Demuxer, error) {
	return nil, media.Errorf("demux", media.ErrConfig, "cannot open %s: container support needs a build with -tags ffmpeg", path)
}
