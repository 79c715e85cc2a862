package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/zsiec/refract/internal/media"
)

func load(t *testing.T, body string) (*Config, error) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "jobs.yaml", []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return Load(fs, "jobs.yaml")
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := load(t, `
jobs:
  - input: a.h264
    output: a.hevc
`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Concurrency != 1 || cfg.Policy != "strict" {
		t.Errorf("concurrency %d policy %q", cfg.Concurrency, cfg.Policy)
	}
	j := cfg.Jobs[0]
	if j.Format != "auto" || j.Decoder != "auto" || j.Chunk != media.DefaultChunkSize {
		t.Errorf("job defaults = %+v", j)
	}

	p := cfg.Encoder.EncoderParams()
	if p.Codec != media.CodecHEVC || p.Width != 1920 || p.Height != 1080 || p.BitRate != 400_000 {
		t.Errorf("encoder params = %+v", p)
	}
	if p.GOPSize != 10 || p.MaxBFrames != 0 || p.Preset != "ultrafast" || p.Tune != "zerolatency" {
		t.Errorf("encoder params = %+v", p)
	}
	if p.FrameRate != (media.Rational{Num: 25, Den: 1}) || p.TimeBase != (media.Rational{Num: 1, Den: 25}) {
		t.Errorf("rates = %v %v", p.FrameRate, p.TimeBase)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := load(t, `
concurrency: 3
policy: passthrough
threads: 2
insecure: true
encoder:
  width: 1280
  height: 720
  bitrate: 2000000
  gop: 50
  bframes: 2
  fps: 50
  preset: medium
  tune: film
jobs:
  - input: srt://cam:9000?streamid=a
    output: quic://relay:4443/a
    format: ts
    decoder: h264
    captions: a.cc.txt
    chunk: 1316
`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	p := cfg.Encoder.EncoderParams()
	if p.Width != 1280 || p.Height != 720 || p.BitRate != 2_000_000 || p.GOPSize != 50 || p.MaxBFrames != 2 {
		t.Errorf("encoder params = %+v", p)
	}
	if p.TimeBase != (media.Rational{Num: 1, Den: 50}) || p.Preset != "medium" || p.Tune != "film" {
		t.Errorf("encoder params = %+v", p)
	}
	if !cfg.Insecure || cfg.Threads != 2 || cfg.Concurrency != 3 {
		t.Errorf("config = %+v", cfg)
	}
	if j := cfg.Jobs[0]; j.Chunk != 1316 || j.Captions != "a.cc.txt" || j.Format != "ts" {
		t.Errorf("job = %+v", j)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	if _, err := Load(afero.NewMemMapFs(), "missing.yaml"); !errors.Is(err, media.ErrOpen) {
		t.Errorf("missing file: want ErrOpen, got %v", err)
	}
	if _, err := load(t, "jobs:\n  - input: a\n    outptu: b\n"); !errors.Is(err, media.ErrConfig) {
		t.Errorf("unknown key: want ErrConfig, got %v", err)
	}
	if _, err := load(t, "jobs: [\n"); !errors.Is(err, media.ErrConfig) {
		t.Errorf("bad yaml: want ErrConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"no jobs", "concurrency: 1\n", "no jobs"},
		{"negative concurrency", "concurrency: -1\njobs: [{input: a, output: b}]\n", "concurrency"},
		{"bad policy", "policy: scale\njobs: [{input: a, output: b}]\n", "policy"},
		{"negative fps", "encoder: {fps: -5}\njobs: [{input: a, output: b}]\n", "fps"},
		{"negative bframes", "encoder: {bframes: -1}\njobs: [{input: a, output: b}]\n", "b-frames"},
		{"missing output", "jobs: [{input: a}]\n", "output must be set"},
		{"stdout", "jobs: [{input: a, output: '-'}]\n", "stdout"},
		{"same file", "jobs: [{input: a, output: a}]\n", "both"},
		{"bad format", "jobs: [{input: a, output: b, format: mkv}]\n", "format"},
		{"bad decoder", "jobs: [{input: a, output: b, decoder: vp9}]\n", "decoder"},
		{"negative chunk", "jobs: [{input: a, output: b, chunk: -1}]\n", "chunk"},
		{"captions collide", "jobs: [{input: a, output: b, captions: b}]\n", "captions"},
		{"duplicate output", "jobs: [{input: a, output: x}, {input: b, output: x}]\n", "already written by job 0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := load(t, tc.body)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			err = cfg.Validate()
			if !errors.Is(err, media.ErrConfig) {
				t.Fatalf("want ErrConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
