package pipeline

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/afero"

	"github.com/zsiec/refract/internal/container"
	"github.com/zsiec/refract/internal/demux"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/mpegts"
	"github.com/zsiec/refract/internal/source"
)

// headSize is how much of a file input is peeked at to pick its format and
// codec.
const headSize = 64 << 10

// Input is an opened transcode input: either a raw Annex B byte stream read
// in chunks and split by the access-unit parser, or a container whose
// packets are filtered down to one video stream.
type Input struct {
	Name      string
	Codec     media.CodecID
	Stream    container.Stream // selected video stream, container inputs only
	Extradata []byte           // decoder private data, container inputs only

	chunks  *source.ChunkReader
	demuxer container.Demuxer
}

// NewRawInput reads an Annex B elementary stream of codec c from r in
// chunks of chunkSize bytes (media.DefaultChunkSize if <= 0). If r is an
// io.Closer it is closed with the input.
func NewRawInput(name string, r io.Reader, c media.CodecID, chunkSize int) *Input {
	return &Input{
		Name:   name,
		Codec:  c,
		chunks: source.NewChunkReader(r, chunkSize),
	}
}

// NewContainerInput selects the first decodable video stream of d.
// supported reports which codecs have a decoder. On error d is left open.
func NewContainerInput(name string, d container.Demuxer, supported func(media.CodecID) bool) (*Input, error) {
	s, err := container.BestVideoStream(d.Streams(), supported)
	if err != nil {
		return nil, err
	}
	in := &Input{Name: name, Codec: s.Codec, Stream: s, demuxer: d}
	if x, ok := d.(interface{ Extradata(int) []byte }); ok {
		in.Extradata = x.Extradata(s.Index)
	}
	return in, nil
}

// Raw reports whether the input goes through the access-unit parser.
func (in *Input) Raw() bool { return in.chunks != nil }

// ReadStats returns the byte counters of a raw input.
func (in *Input) ReadStats() source.Stats {
	if in.chunks == nil {
		return source.Stats{}
	}
	return in.chunks.Stats()
}

// TransportStats returns the packet counters of an MPEG-TS input. ok is
// false for other inputs.
func (in *Input) TransportStats() (st mpegts.Stats, ok bool) {
	ts, ok := in.demuxer.(interface{ Stats() mpegts.Stats })
	if !ok {
		return mpegts.Stats{}, false
	}
	return ts.Stats(), true
}

// Close closes the underlying reader or demuxer.
func (in *Input) Close() error {
	var err error
	switch {
	case in.chunks != nil:
		err = in.chunks.Close()
	case in.demuxer != nil:
		err = in.demuxer.Close()
	}
	if err != nil {
		return media.NewError("source", media.ErrIO, err)
	}
	return nil
}

// InputOptions configures OpenInput.
type InputOptions struct {
	Format    container.Format // auto-detected when empty or auto
	Codec     media.CodecID    // raw inputs: probed when unknown
	ChunkSize int
	// Supported reports which codecs the backend can decode.
	Supported func(media.CodecID) bool
	Log       *slog.Logger
}

type readCloser struct {
	io.Reader
	io.Closer
}

// OpenInput opens name, a path on fs or an srt:// URL, and prepares it for
// the driver. Formats other than raw and MPEG-TS go through libavformat
// and are opened from the OS filesystem.
func OpenInput(ctx context.Context, fs afero.Fs, name string, o InputOptions) (*Input, error) {
	if o.Log == nil {
		o.Log = slog.Default()
	}
	if o.Supported == nil {
		o.Supported = func(media.CodecID) bool { return true }
	}
	format := o.Format
	if format == "" {
		format = container.FormatAuto
	}

	if strings.HasPrefix(name, "srt://") {
		if format != container.FormatAuto && format != container.FormatTS {
			return nil, media.Errorf("source", media.ErrConfig, "srt input carries MPEG-TS, not %s", format)
		}
		rc, err := source.DialSRT(ctx, name, o.Log)
		if err != nil {
			return nil, err
		}
		return openTS(ctx, name, source.NewChunkReader(rc, o.ChunkSize), o)
	}

	if format == container.FormatContainer {
		return openAVFormat(name, o)
	}

	f, err := source.OpenFile(fs, name)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(f, headSize)
	head, err := br.Peek(headSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		f.Close()
		return nil, media.NewError("source", media.ErrIO, err)
	}
	if format == container.FormatAuto {
		format = container.Detect(name, head)
		o.Log.Debug("detected input format", "input", name, "format", format)
	}
	r := readCloser{Reader: br, Closer: f}

	switch format {
	case container.FormatTS:
		return openTS(ctx, name, source.NewChunkReader(r, o.ChunkSize), o)
	case container.FormatContainer:
		f.Close()
		return openAVFormat(name, o)
	}

	c := o.Codec
	if c == media.CodecUnknown {
		if c, err = demux.Probe(head); err != nil {
			f.Close()
			return nil, err
		}
		o.Log.Debug("probed input codec", "input", name, "codec", c)
	}
	if !o.Supported(c) {
		f.Close()
		return nil, media.Errorf("decoder", media.ErrConfig, "no %v decoder available", c)
	}
	return NewRawInput(name, r, c, o.ChunkSize), nil
}

func openTS(ctx context.Context, name string, cr *source.ChunkReader, o InputOptions) (*Input, error) {
	d, err := container.OpenTS(ctx, cr, o.Log)
	if err != nil {
		cr.Close()
		return nil, err
	}
	in, err := NewContainerInput(name, d, o.Supported)
	if err != nil {
		d.Close()
		return nil, err
	}
	return in, nil
}

func openAVFormat(name string, o InputOptions) (*Input, error) {
	d, err := container.OpenAVFormat(name, o.Log)
	if err != nil {
		return nil, err
	}
	in, err := NewContainerInput(name, d, o.Supported)
	if err != nil {
		d.Close()
		return nil, err
	}
	return in, nil
}
