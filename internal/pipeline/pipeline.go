// Package pipeline drives one transcode: it pulls coded packets from an
// input, passes them through a decoder stage and an encoder stage, and
// writes the encoder's output to a sink. Everything runs on the caller's
// goroutine; back-pressure from a stage is handled by draining it and
// resubmitting the same unit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/refract/internal/captions"
	"github.com/zsiec/refract/internal/codec"
	"github.com/zsiec/refract/internal/demux"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/sink"
)

// Policy decides what happens to a decoded frame whose size or pixel
// format differs from the encoder configuration.
type Policy string

const (
	// PolicyStrict fails the transcode with media.ErrConfig.
	PolicyStrict Policy = "strict"
	// PolicyPassthrough hands the frame to the encoder unchanged.
	PolicyPassthrough Policy = "passthrough"
)

// ParsePolicy validates a policy name; the empty string means strict.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyStrict, nil
	case PolicyStrict, PolicyPassthrough:
		return p, nil
	}
	return "", media.Errorf("config", media.ErrConfig, "unknown frame policy %q", s)
}

// Config holds the per-transcode settings.
type Config struct {
	Encoder codec.EncoderParams
	Policy  Policy
	// Threads is passed to the decoder; 0 lets the backend choose.
	Threads int
}

// Stats is a snapshot of driver counters.
type Stats struct {
	PacketsRead      int64 `json:"packetsRead"`
	PacketsDiscarded int64 `json:"packetsDiscarded"`
	FramesDecoded    int64 `json:"framesDecoded"`
	PacketsEncoded   int64 `json:"packetsEncoded"`
	BytesWritten     int64 `json:"bytesWritten"`
	KeyframesWritten int64 `json:"keyframesWritten"`
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(d *Driver) {
		if log != nil {
			d.log = log
		}
	}
}

// WithProgress writes one line per decoded frame and per written packet
// to w.
func WithProgress(w io.Writer) Option {
	return func(d *Driver) { d.progress = w }
}

// WithCaptions feeds every video packet to e before decoding. The driver
// closes e on teardown.
func WithCaptions(e *captions.Extractor) Option {
	return func(d *Driver) { d.captions = e }
}

// Driver runs one transcode. It owns its input, sink and caption extractor
// and closes them when Run returns.
type Driver struct {
	cfg      Config
	in       *Input
	out      *sink.Writer
	backend  codec.Backend
	log      *slog.Logger
	base     *slog.Logger // per-input logger handed to the stages
	progress io.Writer
	captions *captions.Extractor

	dec    *codec.Stage[*media.CodedPacket, *media.DecodedFrame]
	enc    *codec.Stage[*media.DecodedFrame, *media.EncodedPacket]
	parser *demux.AccessUnitParser

	inputLogged  bool
	outputLogged bool
	mismatchSeen bool
	ran          bool

	packetsRead      atomic.Int64
	packetsDiscarded atomic.Int64
	framesDecoded    atomic.Int64
	packetsEncoded   atomic.Int64
	bytesWritten     atomic.Int64
	keyframesWritten atomic.Int64
}

// New prepares a transcode of in to out. Sessions are opened by Run.
func New(cfg Config, in *Input, out *sink.Writer, backend codec.Backend, opts ...Option) *Driver {
	if cfg.Policy == "" {
		cfg.Policy = PolicyStrict
	}
	d := &Driver{
		cfg:     cfg,
		in:      in,
		out:     out,
		backend: backend,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	d.base = d.log.With("input", in.Name)
	d.log = d.base.With("component", "pipeline")
	return d
}

// Stats returns the current counters. It is safe to call while Run is
// in progress.
func (d *Driver) Stats() Stats {
	return Stats{
		PacketsRead:      d.packetsRead.Load(),
		PacketsDiscarded: d.packetsDiscarded.Load(),
		FramesDecoded:    d.framesDecoded.Load(),
		PacketsEncoded:   d.packetsEncoded.Load(),
		BytesWritten:     d.bytesWritten.Load(),
		KeyframesWritten: d.keyframesWritten.Load(),
	}
}

// Run transcodes until the input is exhausted, ctx is canceled or a stage
// fails. Sessions, input, sink and caption sidecar are closed on every
// path; close failures are joined to the returned error. Run may be called
// once.
func (d *Driver) Run(ctx context.Context) (err error) {
	if d.ran {
		return media.Errorf("pipeline", media.ErrProtocol, "driver already ran")
	}
	d.ran = true
	defer func() {
		err = errors.Join(err, d.teardown())
	}()

	if err := d.open(); err != nil {
		return err
	}
	d.log.Info("transcode started", "codec", d.in.Codec, "raw", d.in.Raw(),
		"encoder", d.cfg.Encoder.Codec, "size", fmt.Sprintf("%dx%d", d.cfg.Encoder.Width, d.cfg.Encoder.Height),
		"policy", d.cfg.Policy)

	if d.in.Raw() {
		err = d.runRaw(ctx)
	} else {
		err = d.runContainer(ctx)
	}
	if err != nil {
		return err
	}
	if err := d.finish(); err != nil {
		return err
	}

	st := d.Stats()
	d.log.Info("transcode finished",
		"packets_read", st.PacketsRead, "packets_discarded", st.PacketsDiscarded,
		"frames", st.FramesDecoded, "packets_written", st.PacketsEncoded,
		"bytes", st.BytesWritten, "keyframes", st.KeyframesWritten)
	if d.in.Raw() {
		rs := d.in.ReadStats()
		d.log.Debug("input read", "bytes", rs.BytesRead, "reads", rs.ReadCount)
	} else if ts, ok := d.in.TransportStats(); ok {
		level := slog.LevelDebug
		if ts.Corrupt > 0 || ts.Discontinuities > 0 {
			level = slog.LevelWarn
		}
		d.log.Log(context.Background(), level, "transport stream read",
			"packets", ts.Packets, "corrupt", ts.Corrupt, "discontinuities", ts.Discontinuities)
	}
	return nil
}

func (d *Driver) open() error {
	dec, err := d.backend.NewDecoder(d.in.Codec, codec.DecoderParams{Extradata: d.in.Extradata, Threads: d.cfg.Threads})
	if err != nil {
		return media.NewError("decoder", media.ErrOpen, err)
	}
	d.dec = codec.NewDecoderStage(dec, d.base)

	enc, err := d.backend.NewEncoder(d.cfg.Encoder)
	if err != nil {
		return media.NewError("encoder", media.ErrOpen, err)
	}
	d.enc = codec.NewEncoderStage(enc, d.base)

	if d.in.Raw() {
		if d.parser, err = demux.NewAccessUnitParser(d.in.Codec); err != nil {
			return err
		}
	}
	return nil
}

func canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transcode canceled: %w", err)
	}
	return nil
}

func (d *Driver) runRaw(ctx context.Context) error {
	for {
		if err := canceled(ctx); err != nil {
			return err
		}
		chunk, err := d.in.chunks.Next()
		if err != nil {
			return err
		}
		if chunk.EOF {
			break
		}
		window := chunk.Data
		for len(window) > 0 {
			n, pkt, err := d.parser.Parse(window)
			if err != nil {
				return err
			}
			window = window[n:]
			if pkt != nil {
				if err := d.decode(pkt); err != nil {
					return err
				}
			}
		}
	}

	for {
		pkt, err := d.parser.Flush()
		if err != nil {
			return err
		}
		if pkt == nil {
			return nil
		}
		if err := d.decode(pkt); err != nil {
			return err
		}
	}
}

func (d *Driver) runContainer(ctx context.Context) error {
	want := d.in.Stream.Index
	for {
		if err := canceled(ctx); err != nil {
			return err
		}
		pkt, err := d.in.demuxer.ReadPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if pkt.StreamIndex != want {
			d.packetsRead.Add(1)
			d.packetsDiscarded.Add(1)
			continue
		}
		if err := d.decode(pkt); err != nil {
			return err
		}
	}
}

// decode submits one packet, resubmitting it after a drain while the
// decoder pushes back, then drains the decoder.
func (d *Driver) decode(pkt *media.CodedPacket) error {
	d.packetsRead.Add(1)
	d.inspectInput(pkt)
	if d.captions != nil {
		if err := d.captions.Feed(pkt); err != nil {
			return err
		}
	}

	if err := submit(d.dec, pkt, d.drainDecoder); err != nil {
		return err
	}
	_, err := d.drainDecoder()
	return err
}

// submit hands in to s, draining s with drain each time it pushes back.
// A stage that pushes back twice with nothing to drain in between is
// broken; that is reported instead of spinning.
func submit[In, Out any](s *codec.Stage[In, Out], in In, drain func() (int, error)) error {
	for {
		st, err := s.Submit(in)
		if err != nil {
			return err
		}
		if st == codec.StatusOK {
			return nil
		}
		n, err := drain()
		if err != nil {
			return err
		}
		if n == 0 {
			if st, err = s.Submit(in); err != nil {
				return err
			}
			if st == codec.StatusOK {
				return nil
			}
			return media.Errorf("pipeline", media.ErrProtocol, "session refuses input with no output pending")
		}
	}
}

// drainDecoder receives frames until Empty or EndOfStream, encoding each.
// It returns the number of frames received.
func (d *Driver) drainDecoder() (int, error) {
	n := 0
	for {
		f, st, err := d.dec.Receive()
		if err != nil {
			return n, err
		}
		if st != codec.StatusOK {
			return n, nil
		}
		n++
		d.framesDecoded.Add(1)
		d.printf("frame %3d decoded (%dx%d %s)\n", f.FrameNumber, f.Width, f.Height, f.PixelFormat)
		if err := d.encode(f); err != nil {
			return n, err
		}
	}
}

// encode submits one frame to the encoder and writes what it produces.
// The frame is released once the encoder has taken it.
func (d *Driver) encode(f *media.DecodedFrame) error {
	defer f.Release()
	if err := d.checkFrame(f); err != nil {
		return err
	}
	if err := submit(d.enc, f, d.drainEncoder); err != nil {
		return err
	}
	_, err := d.drainEncoder()
	return err
}

func (d *Driver) checkFrame(f *media.DecodedFrame) error {
	p := d.cfg.Encoder
	if f.Width == p.Width && f.Height == p.Height && (f.PixelFormat == "" || f.PixelFormat == p.PixelFormat) {
		return nil
	}
	if d.cfg.Policy == PolicyStrict {
		return media.Errorf("pipeline", media.ErrConfig,
			"frame %d is %dx%d %s but the encoder expects %dx%d %s (set the encoder size or use the passthrough policy)",
			f.FrameNumber, f.Width, f.Height, f.PixelFormat, p.Width, p.Height, p.PixelFormat)
	}
	if !d.mismatchSeen {
		d.mismatchSeen = true
		d.log.Warn("decoded frames do not match encoder configuration",
			"frame", fmt.Sprintf("%dx%d %s", f.Width, f.Height, f.PixelFormat),
			"encoder", fmt.Sprintf("%dx%d %s", p.Width, p.Height, p.PixelFormat))
	}
	return nil
}

// drainEncoder receives packets until Empty or EndOfStream and writes each
// to the sink. It returns the number of packets received.
func (d *Driver) drainEncoder() (int, error) {
	n := 0
	for {
		pkt, st, err := d.enc.Receive()
		if err != nil {
			return n, err
		}
		if st != codec.StatusOK {
			return n, nil
		}
		n++
		if err := d.out.Write(pkt); err != nil {
			return n, err
		}
		d.packetsEncoded.Add(1)
		d.bytesWritten.Add(int64(len(pkt.Data)))
		d.inspectOutput(pkt)
		d.printf("packet %3d written (size=%5d)\n", pkt.Seq, len(pkt.Data))
	}
}

// finish flushes the decoder, encodes its remaining frames, then flushes
// the encoder and writes its remaining packets.
func (d *Driver) finish() error {
	if err := d.dec.Flush(); err != nil {
		return err
	}
	if _, err := d.drainDecoder(); err != nil {
		return err
	}
	if d.dec.State() != codec.StateFlushed {
		return media.Errorf("decoder", media.ErrProtocol, "flush ended in state %v", d.dec.State())
	}
	if err := d.enc.Flush(); err != nil {
		return err
	}
	if _, err := d.drainEncoder(); err != nil {
		return err
	}
	if d.enc.State() != codec.StateFlushed {
		return media.Errorf("encoder", media.ErrProtocol, "flush ended in state %v", d.enc.State())
	}
	return nil
}

func (d *Driver) teardown() error {
	var errs []error
	if d.dec != nil {
		errs = append(errs, d.dec.Close())
	}
	if d.enc != nil {
		errs = append(errs, d.enc.Close())
	}
	if d.captions != nil {
		errs = append(errs, d.captions.Close())
	}
	errs = append(errs, d.out.Close(), d.in.Close())
	return errors.Join(errs...)
}

func (d *Driver) printf(format string, args ...any) {
	if d.progress != nil {
		fmt.Fprintf(d.progress, format, args...)
	}
}
