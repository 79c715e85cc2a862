package config

import (
	"fmt"

	"github.com/zsiec/refract/internal/container"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/pipeline"
)

// Validate reports the first invalid value as a media.ErrConfig error.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return media.NewError("config", media.ErrConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Threads < 0 {
		return fmt.Errorf("threads must not be negative, got %d", c.Threads)
	}
	if _, err := pipeline.ParsePolicy(c.Policy); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if c.Encoder.FPS <= 0 {
		return fmt.Errorf("encoder fps must be positive, got %d", c.Encoder.FPS)
	}
	if err := c.Encoder.EncoderParams().Validate(); err != nil {
		return fmt.Errorf("encoder: %w", err)
	}
	if len(c.Jobs) == 0 {
		return fmt.Errorf("no jobs")
	}

	outputs := make(map[string]int, len(c.Jobs))
	for i, j := range c.Jobs {
		if err := j.Validate(); err != nil {
			return fmt.Errorf("job %d: %w", i, err)
		}
		if prev, ok := outputs[j.Output]; ok {
			return fmt.Errorf("job %d: output %q already written by job %d", i, j.Output, prev)
		}
		outputs[j.Output] = i
	}
	return nil
}

// Validate checks one job entry.
func (j JobConfig) Validate() error {
	if j.Input == "" {
		return fmt.Errorf("input must be set")
	}
	if j.Output == "" {
		return fmt.Errorf("output must be set")
	}
	if j.Output == "-" {
		return fmt.Errorf("writing to stdout is not supported")
	}
	if j.Input == j.Output {
		return fmt.Errorf("input and output are both %q", j.Input)
	}
	if j.Captions != "" && (j.Captions == j.Output || j.Captions == j.Input) {
		return fmt.Errorf("captions path %q collides with input or output", j.Captions)
	}
	if _, err := container.ParseFormat(j.Format); err != nil {
		return fmt.Errorf("format: %w", err)
	}
	if _, err := media.ParseCodecID(j.Decoder); err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	if j.Chunk <= 0 {
		return fmt.Errorf("chunk must be positive, got %d", j.Chunk)
	}
	return nil
}
