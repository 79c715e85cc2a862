// Package sink writes encoded packets, unframed and in order, to a file or
// a QUIC peer.
package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/afero"

	"github.com/zsiec/refract/internal/media"
)

// Stats counts what a Writer has written.
type Stats struct {
	Packets int64 `json:"packets"`
	Bytes   int64 `json:"bytes"`
}

// Writer appends packet payloads to an io.WriteCloser. After the first
// failed write it refuses further packets so the output never has a hole
// in the middle.
type Writer struct {
	w      io.WriteCloser
	name   string
	stats  Stats
	err    error
	closed bool
}

// NewWriter wraps w. name is used in error messages.
func NewWriter(w io.WriteCloser, name string) *Writer {
	return &Writer{w: w, name: name}
}

// Name returns the output name the writer was opened with.
func (w *Writer) Name() string { return w.name }

// Write appends pkt.Data. Failures are media.ErrIO and sticky.
func (w *Writer) Write(pkt *media.EncodedPacket) error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		w.err = media.Errorf("sink", media.ErrIO, "write to closed output %s", w.name)
		return w.err
	}
	n, err := w.w.Write(pkt.Data)
	w.stats.Bytes += int64(n)
	if err == nil && n < len(pkt.Data) {
		err = io.ErrShortWrite
	}
	if err != nil {
		w.err = media.NewError("sink", media.ErrIO, fmt.Errorf("writing packet %d to %s: %w", pkt.Seq, w.name, err))
		return w.err
	}
	w.stats.Packets++
	return nil
}

// Stats returns the packet and byte counts written so far.
func (w *Writer) Stats() Stats { return w.stats }

// Close closes the underlying output once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.w.Close(); err != nil {
		return media.NewError("sink", media.ErrIO, fmt.Errorf("closing %s: %w", w.name, err))
	}
	return nil
}

// Create truncates or creates path on fs. Failure is media.ErrOpen.
func Create(fs afero.Fs, path string) (*Writer, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, media.NewError("sink", media.ErrOpen, err)
	}
	return NewWriter(f, path), nil
}

// Options configures Open.
type Options struct {
	// Insecure skips certificate verification of a quic:// peer.
	Insecure bool
	Log      *slog.Logger
}

// Open creates a file on fs or dials a quic:// URL.
func Open(ctx context.Context, fs afero.Fs, target string, o Options) (*Writer, error) {
	switch {
	case target == "-":
		return nil, media.Errorf("sink", media.ErrConfig, "writing to stdout is not supported")
	case strings.HasPrefix(target, "quic://"):
		return DialQUIC(ctx, target, o)
	}
	return Create(fs, target)
}
