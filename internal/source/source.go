// Package source reads the compressed input bytes of a transcode, from a
// file or an SRT connection, in fixed-size chunks.
package source

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/zsiec/refract/internal/media"
)

// Stats reports what a ChunkReader has read so far.
type Stats struct {
	BytesRead int64 `json:"bytesRead"`
	ReadCount int64 `json:"readCount"`
	UptimeMs  int64 `json:"uptimeMs"`
}

// ChunkReader yields an io.Reader's bytes in chunks of at most size bytes.
type ChunkReader struct {
	r         io.Reader
	size      int
	startedAt time.Time
	eof       bool

	bytesRead atomic.Int64
	readCount atomic.Int64
}

// NewChunkReader wraps r. A size <= 0 selects media.DefaultChunkSize.
func NewChunkReader(r io.Reader, size int) *ChunkReader {
	if size <= 0 {
		size = media.DefaultChunkSize
	}
	return &ChunkReader{r: r, size: size, startedAt: time.Now()}
}

// Next reads the next chunk into a fresh buffer. A short read is returned
// as is; EOF is reported only on a call that read no bytes. Once EOF has
// been reported every later call reports it again. Read failures are
// media.ErrIO.
func (c *ChunkReader) Next() (media.Chunk, error) {
	if c.eof {
		return media.Chunk{EOF: true}, nil
	}
	buf := make([]byte, c.size)
	for {
		n, err := c.r.Read(buf)
		if n > 0 {
			c.bytesRead.Add(int64(n))
			c.readCount.Add(1)
			return media.Chunk{Data: buf[:n]}, nil
		}
		if errors.Is(err, io.EOF) {
			c.eof = true
			return media.Chunk{EOF: true}, nil
		}
		if err != nil {
			return media.Chunk{}, media.NewError("source", media.ErrIO, err)
		}
	}
}

// Read lets a ChunkReader stand in for its reader while still counting
// bytes, so container demuxers can share the statistics.
func (c *ChunkReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.bytesRead.Add(int64(n))
		c.readCount.Add(1)
	}
	return n, err
}

// Close closes the wrapped reader if it is an io.Closer.
func (c *ChunkReader) Close() error {
	if cl, ok := c.r.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// Stats returns a snapshot of the read counters.
func (c *ChunkReader) Stats() Stats {
	return Stats{
		BytesRead: c.bytesRead.Load(),
		ReadCount: c.readCount.Load(),
		UptimeMs:  time.Since(c.startedAt).Milliseconds(),
	}
}

// OpenFile opens path on fs for reading. Failure is media.ErrOpen.
func OpenFile(fs afero.Fs, path string) (afero.File, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, media.NewError("source", media.ErrOpen, err)
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		f.Close()
		return nil, media.Errorf("source", media.ErrOpen, "%s is a directory", path)
	}
	return f, nil
}
