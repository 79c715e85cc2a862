// Command refract transcodes H.264 or HEVC video into a raw HEVC
// elementary stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"github.com/zsiec/refract/internal/codec"
	"github.com/zsiec/refract/internal/codec/ffmpeg"
	"github.com/zsiec/refract/internal/config"
	"github.com/zsiec/refract/internal/container"
	"github.com/zsiec/refract/internal/jobs"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/pipeline"
	"github.com/zsiec/refract/internal/sink"
)

var version = "dev"

const usage = `usage:
  refract [flags] <input_file> <output_file>
  refract -config jobs.yaml
  refract receive [-listen addr] <output_file>

Inputs may be srt:// URLs, outputs quic:// URLs.

flags:
`

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	a := &app{
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		fs:      afero.NewOsFs(),
		backend: ffmpeg.New(slog.Default()),
		log:     slog.Default(),
	}
	os.Exit(a.run(ctx, os.Args[1:]))
}

type app struct {
	stdout  io.Writer
	stderr  io.Writer
	fs      afero.Fs
	backend codec.Backend
	log     *slog.Logger
}

// run returns the process exit code.
func (a *app) run(ctx context.Context, args []string) int {
	if len(args) > 0 && args[0] == "receive" {
		return a.exit(a.receive(ctx, args[1:]))
	}

	fl := flag.NewFlagSet("refract", flag.ContinueOnError)
	fl.SetOutput(a.stderr)
	fl.Usage = func() {
		fmt.Fprint(a.stderr, usage)
		fl.PrintDefaults()
	}

	def := codec.DefaultEncoderParams()
	var (
		format     = fl.String("format", "auto", "input format: auto, raw, ts or container")
		decoder    = fl.String("decoder", "auto", "raw input codec: auto, h264 or hevc")
		captions   = fl.String("captions", "", "write CEA-608/708 captions found in the input to this file")
		policy     = fl.String("policy", string(pipeline.PolicyStrict), "frames that do not match the encoder: strict or passthrough")
		width      = fl.Int("width", def.Width, "output width")
		height     = fl.Int("height", def.Height, "output height")
		bitrate    = fl.Int64("bitrate", def.BitRate, "output bit rate in bits/s")
		gop        = fl.Int("gop", def.GOPSize, "keyframe interval in frames")
		bframes    = fl.Int("bframes", def.MaxBFrames, "maximum consecutive B-frames")
		fps        = fl.Int("fps", def.FrameRate.Num, "output frame rate")
		preset     = fl.String("preset", def.Preset, "encoder preset")
		tune       = fl.String("tune", def.Tune, "encoder tune")
		chunk      = fl.Int("chunk", media.DefaultChunkSize, "raw input read size in bytes")
		threads    = fl.Int("threads", 0, "decoder threads, 0 lets the backend decide")
		insecure   = fl.Bool("insecure", false, "skip certificate verification of quic:// outputs")
		configPath = fl.String("config", "", "run the jobs listed in this YAML file")
		showVer    = fl.Bool("version", false, "print the version and exit")
	)
	if err := fl.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if *showVer {
		fmt.Fprintf(a.stdout, "refract %s libav=%t\n", version, ffmpeg.Available)
		return 0
	}
	if *configPath != "" {
		return a.exit(a.batch(ctx, *configPath))
	}
	if fl.NArg() != 2 {
		fl.Usage()
		return 0
	}

	cfg := config.Config{
		Concurrency: 1,
		Policy:      *policy,
		Threads:     *threads,
		Insecure:    *insecure,
		Encoder: config.EncoderConfig{
			Width: *width, Height: *height, Bitrate: *bitrate,
			GOP: *gop, BFrames: *bframes, FPS: *fps,
			Preset: *preset, Tune: *tune,
		},
		Jobs: []config.JobConfig{{
			Input:    fl.Arg(0),
			Output:   fl.Arg(1),
			Format:   *format,
			Decoder:  *decoder,
			Captions: *captions,
			Chunk:    *chunk,
		}},
	}
	results, err := a.runConfig(ctx, &cfg, a.stdout)
	if len(results) == 1 && results[0].Err != nil {
		err = results[0].Err
	}
	return a.exit(err)
}

func (a *app) exit(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(a.stderr, "refract: %v\n", err)
	return 1
}

func (a *app) batch(ctx context.Context, path string) error {
	cfg, err := config.Load(a.fs, path)
	if err != nil {
		return err
	}
	var progress io.Writer
	if cfg.Concurrency == 1 {
		progress = a.stdout
	}
	results, err := a.runConfig(ctx, cfg, progress)
	for _, r := range results {
		if r.Err == nil {
			a.log.Info("job done", "job", r.ID, "input", r.Spec.Input, "output", r.Spec.Output,
				"frames", r.Stats.FramesDecoded, "bytes", r.Stats.BytesWritten, "elapsed", r.Elapsed)
		}
	}
	return err
}

// runConfig validates cfg and runs its jobs.
func (a *app) runConfig(ctx context.Context, cfg *config.Config, progress io.Writer) ([]jobs.Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, _ := pipeline.ParsePolicy(cfg.Policy)

	specs := make([]jobs.Spec, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		format, _ := container.ParseFormat(j.Format)
		c, _ := media.ParseCodecID(j.Decoder)
		specs[i] = jobs.Spec{
			Input:     j.Input,
			Output:    j.Output,
			Format:    format,
			Codec:     c,
			ChunkSize: j.Chunk,
			Captions:  j.Captions,
		}
	}

	r := jobs.NewRunner(a.fs, a.backend, jobs.Options{
		Pipeline: pipeline.Config{
			Encoder: cfg.Encoder.EncoderParams(),
			Policy:  policy,
			Threads: cfg.Threads,
		},
		Concurrency: cfg.Concurrency,
		Insecure:    cfg.Insecure,
		Progress:    progress,
		Log:         a.log,
	})
	stop := context.AfterFunc(ctx, func() {
		for _, j := range r.Active() {
			a.log.Info("canceling job", "job", j.ID, "input", j.Input, "running", j.StartedAt)
		}
	})
	defer stop()

	a.log.Debug("starting jobs", "backend", a.backend.Name(), "jobs", len(specs), "concurrency", cfg.Concurrency)
	return r.Run(ctx, specs)
}

func (a *app) receive(ctx context.Context, args []string) error {
	fl := flag.NewFlagSet("refract receive", flag.ContinueOnError)
	fl.SetOutput(a.stderr)
	listen := fl.String("listen", envOr("REFRACT_LISTEN", ":4443"), "UDP address to accept one QUIC sender on")
	if err := fl.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return media.NewError("config", media.ErrConfig, err)
	}
	if fl.NArg() != 1 {
		fmt.Fprint(a.stderr, usage)
		fl.PrintDefaults()
		return nil
	}

	rcv, err := sink.Listen(*listen, a.log)
	if err != nil {
		return err
	}
	defer rcv.Close()

	fmt.Fprintf(a.stdout, "listening on %s\nsend to quic://%s?fingerprint=%s\n",
		rcv.Addr(), rcv.Addr(), rcv.Fingerprint())
	n, err := rcv.Receive(ctx, a.fs, fl.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "received %d bytes\n", n)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
