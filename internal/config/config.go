// Package config loads batch job files. Decoding is strict: unknown keys
// are rejected and every unset field gets an explicit default.
package config

import (
	"bytes"
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/zsiec/refract/internal/codec"
	"github.com/zsiec/refract/internal/media"
)

// Config is a batch of transcodes sharing one encoder configuration.
type Config struct {
	Concurrency int           `yaml:"concurrency"`        // jobs run at once
	Policy      string        `yaml:"policy"`             // strict or passthrough
	Threads     int           `yaml:"threads"`            // decoder threads, 0 = backend default
	Insecure    bool          `yaml:"insecure,omitempty"` // skip quic:// certificate checks
	Encoder     EncoderConfig `yaml:"encoder"`
	Jobs        []JobConfig   `yaml:"jobs"`
}

// EncoderConfig mirrors the encoder flags of the single-job CLI.
type EncoderConfig struct {
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	Bitrate int64  `yaml:"bitrate"` // bits per second
	GOP     int    `yaml:"gop"`
	BFrames int    `yaml:"bframes"`
	FPS     int    `yaml:"fps"`
	Preset  string `yaml:"preset"`
	Tune    string `yaml:"tune"`
}

// JobConfig is one input/output pair.
type JobConfig struct {
	Input    string `yaml:"input"`
	Output   string `yaml:"output"`
	Format   string `yaml:"format,omitempty"`   // auto, raw, ts or container
	Decoder  string `yaml:"decoder,omitempty"`  // auto, h264 or hevc
	Captions string `yaml:"captions,omitempty"` // caption sidecar path
	Chunk    int    `yaml:"chunk,omitempty"`    // raw read size in bytes
}

// Load reads and decodes a job file from fs and applies defaults. It does
// not validate; call Validate on the result.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, media.NewError("config", media.ErrOpen, fmt.Errorf("read config file: %w", err))
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil {
		return nil, media.NewError("config", media.ErrConfig, fmt.Errorf("decode config: %w", err))
	}

	cfg.setDefaults()
	return &cfg, nil
}

// setDefaults fills unset fields from codec.DefaultEncoderParams.
func (c *Config) setDefaults() {
	def := codec.DefaultEncoderParams()
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	if c.Policy == "" {
		c.Policy = "strict"
	}
	e := &c.Encoder
	if e.Width == 0 {
		e.Width = def.Width
	}
	if e.Height == 0 {
		e.Height = def.Height
	}
	if e.Bitrate == 0 {
		e.Bitrate = def.BitRate
	}
	if e.GOP == 0 {
		e.GOP = def.GOPSize
	}
	if e.FPS == 0 {
		e.FPS = def.FrameRate.Num
	}
	if e.Preset == "" {
		e.Preset = def.Preset
	}
	if e.Tune == "" {
		e.Tune = def.Tune
	}
	for i := range c.Jobs {
		j := &c.Jobs[i]
		if j.Format == "" {
			j.Format = "auto"
		}
		if j.Decoder == "" {
			j.Decoder = "auto"
		}
		if j.Chunk == 0 {
			j.Chunk = media.DefaultChunkSize
		}
	}
}

// EncoderParams converts the shared encoder section. The time base is the
// inverse of the frame rate.
func (e EncoderConfig) EncoderParams() codec.EncoderParams {
	p := codec.DefaultEncoderParams()
	p.Width, p.Height = e.Width, e.Height
	p.BitRate = e.Bitrate
	p.GOPSize = e.GOP
	p.MaxBFrames = e.BFrames
	p.FrameRate = media.Rational{Num: e.FPS, Den: 1}
	p.TimeBase = media.Rational{Num: 1, Den: e.FPS}
	p.Preset, p.Tune = e.Preset, e.Tune
	return p
}
