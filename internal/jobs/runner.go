package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/refract/internal/captions"
	"github.com/zsiec/refract/internal/codec"
	"github.com/zsiec/refract/internal/container"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/pipeline"
	"github.com/zsiec/refract/internal/sink"
)

// Spec describes one transcode.
type Spec struct {
	Input     string
	Output    string
	Format    container.Format
	Codec     media.CodecID // raw inputs; probed when unknown
	ChunkSize int
	Captions  string // sidecar path on the runner's fs; empty disables
}

// Result is the outcome of one Spec.
type Result struct {
	ID      uuid.UUID
	Spec    Spec
	Stats   pipeline.Stats
	Elapsed time.Duration
	Err     error
}

// Options configures a Runner.
type Options struct {
	Pipeline pipeline.Config
	// Concurrency bounds the jobs running at once; values below 1 mean 1.
	Concurrency int
	// Insecure skips certificate verification of quic:// outputs.
	Insecure bool
	// Progress receives the per-frame progress lines of every job.
	Progress io.Writer
	Log      *slog.Logger
}

// Runner runs transcodes against one codec backend and filesystem.
type Runner struct {
	fs      afero.Fs
	backend codec.Backend
	opts    Options
	log     *slog.Logger
	mgr     *Manager
}

// NewRunner creates a runner. Files are read from and written to fs.
func NewRunner(fs afero.Fs, backend codec.Backend, o Options) *Runner {
	if o.Log == nil {
		o.Log = slog.Default()
	}
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	return &Runner{
		fs:      fs,
		backend: backend,
		opts:    o,
		log:     o.Log.With("component", "jobs"),
		mgr:     NewManager(o.Log),
	}
}

// Active returns the jobs currently running.
func (r *Runner) Active() []*Job { return r.mgr.List() }

// Run executes specs with bounded concurrency and waits for all of them. A
// failing job does not stop the others. Results are in spec order; the
// returned error joins every job failure, each prefixed with its output.
// Two specs with the same output fail the batch with media.ErrConfig
// before anything runs.
func (r *Runner) Run(ctx context.Context, specs []Spec) ([]Result, error) {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.Output] {
			return nil, media.Errorf("jobs", media.ErrConfig, "output %q listed twice", s.Output)
		}
		seen[s.Output] = true
	}

	results := make([]Result, len(specs))
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, s := range specs {
		results[i].Spec = s
		g.Go(func() error {
			results[i] = r.runOne(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			errs = append(errs, fmt.Errorf("%s: %w", res.Spec.Output, res.Err))
		}
	}
	r.log.Info("batch finished", "jobs", len(specs), "failed", failed)
	return results, errors.Join(errs...)
}

func (r *Runner) runOne(ctx context.Context, s Spec) Result {
	res := Result{Spec: s}
	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("job not started: %w", err)
		return res
	}

	job, ok := r.mgr.Create(s.Input, s.Output)
	if !ok {
		res.Err = media.Errorf("jobs", media.ErrConfig, "output %q is already being written", s.Output)
		return res
	}
	defer r.mgr.Remove(s.Output)
	res.ID = job.ID

	log := r.opts.Log.With("job", job.ID.String())
	start := time.Now()
	d, err := r.prepare(ctx, s, log)
	if err != nil {
		log.Error("job failed to start", "input", s.Input, "error", err)
		res.Err = err
		return res
	}
	res.Err = d.Run(ctx)
	res.Stats = d.Stats()
	res.Elapsed = time.Since(start)
	if res.Err != nil {
		log.Error("job failed", "input", s.Input, "error", res.Err)
	}
	return res
}

// prepare opens the input, sink and caption sidecar. On failure everything
// opened so far is closed again.
func (r *Runner) prepare(ctx context.Context, s Spec, log *slog.Logger) (*pipeline.Driver, error) {
	in, err := pipeline.OpenInput(ctx, r.fs, s.Input, pipeline.InputOptions{
		Format:    s.Format,
		Codec:     s.Codec,
		ChunkSize: s.ChunkSize,
		Supported: r.backend.HasDecoder,
		Log:       log,
	})
	if err != nil {
		return nil, err
	}

	out, err := sink.Open(ctx, r.fs, s.Output, sink.Options{Insecure: r.opts.Insecure, Log: log})
	if err != nil {
		return nil, errors.Join(err, in.Close())
	}

	opts := []pipeline.Option{pipeline.WithLogger(log), pipeline.WithProgress(r.opts.Progress)}
	if s.Captions != "" {
		f, err := r.fs.Create(s.Captions)
		if err != nil {
			return nil, errors.Join(media.NewError("captions", media.ErrOpen, err), out.Close(), in.Close())
		}
		opts = append(opts, pipeline.WithCaptions(captions.NewExtractor(f, log)))
	}
	return pipeline.New(r.opts.Pipeline, in, out, r.backend, opts...), nil
}
