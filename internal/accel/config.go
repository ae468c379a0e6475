// Package accel owns the accelerator: its current configuration, the loaded
// bitstream and the device handles that come with it.
package accel

import (
	"errors"
	"fmt"

	"github.com/samcharles93/systolic/internal/device"
	"github.com/samcharles93/systolic/internal/precision"
	"github.com/samcharles93/systolic/internal/tile"
)

var ErrInvalidConfig = errors.New("invalid accelerator configuration")

// Config is the full parameter set of a loaded accelerator. Every field but
// NumThreads is baked into the bitstream.
type Config struct {
	Part       string `json:"part" yaml:"part"`
	R          int    `json:"r" yaml:"r"`
	C          int    `json:"c" yaml:"c"`
	N          int    `json:"n" yaml:"n"`
	Es         int    `json:"es" yaml:"es"`
	QSize      int    `json:"qsize" yaml:"qsize"`
	Depth      int    `json:"depth" yaml:"depth"`
	NumThreads int    `json:"num_threads" yaml:"num_threads"`
}

// DefaultConfig is the configuration loaded at startup.
func DefaultConfig() Config {
	return Config{
		Part:       "KV260",
		R:          8,
		C:          8,
		N:          8,
		Es:         2,
		QSize:      128,
		Depth:      8,
		NumThreads: 1,
	}
}

func (c Config) Image() device.Image {
	return device.Image{
		Part:  c.Part,
		R:     c.R,
		C:     c.C,
		N:     c.N,
		Es:    c.Es,
		QSize: c.QSize,
		Depth: c.Depth,
	}
}

func (c Config) Geometry() tile.Geometry {
	return tile.Geometry{R: c.R, C: c.C, Depth: c.Depth}
}

// Precision resolves the storage class of N-bit elements.
func (c Config) Precision() (precision.Class, error) {
	return precision.Resolve(c.N)
}

// Validate checks the parameters without touching the device.
func (c Config) Validate() error {
	if c.Part == "" {
		return fmt.Errorf("%w: empty part", ErrInvalidConfig)
	}
	if err := c.Geometry().Validate(); err != nil {
		return err
	}
	if _, err := c.Precision(); err != nil {
		return err
	}
	if c.NumThreads < 1 {
		return fmt.Errorf("%w: num_threads=%d", ErrInvalidConfig, c.NumThreads)
	}
	return nil
}
