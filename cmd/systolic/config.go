package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the systolic configuration file
// (~/.config/systolic/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	// ServerAddress is where serve listens; ClientAddress is where the
	// client commands connect, defaulting to a dialable ServerAddress.
	ServerAddress string `yaml:"server_address"`
	ClientAddress string `yaml:"client_address"`

	// Device
	Device          string         `yaml:"device"`
	BitstreamDir    string         `yaml:"bitstream_dir"`
	UIODevice       string         `yaml:"uio_device"`
	DMATxDevice     string         `yaml:"dma_tx_device"`
	DMARxDevice     string         `yaml:"dma_rx_device"`
	TransferTimeout *time.Duration `yaml:"transfer_timeout"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Accelerator loaded at startup
	Accelerator AcceleratorConfig `yaml:"accelerator"`
}

type AcceleratorConfig struct {
	Part       *string `yaml:"part"`
	R          *int64  `yaml:"r"`
	C          *int64  `yaml:"c"`
	N          *int64  `yaml:"n"`
	Es         *int64  `yaml:"es"`
	QSize      *int64  `yaml:"qsize"`
	Depth      *int64  `yaml:"depth"`
	NumThreads *int64  `yaml:"num_threads"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "systolic", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables
// when the corresponding flag was not set.
func applyServeConfig(c *cli.Command, cfg Config, opts *serveOptions) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		opts.addr = cfg.ServerAddress
	}
	if cfg.Device != "" && !c.IsSet("device") {
		opts.device = cfg.Device
	}
	if cfg.BitstreamDir != "" && !c.IsSet("bitstream-dir") {
		opts.fpga.BitstreamDir = cfg.BitstreamDir
	}
	if cfg.UIODevice != "" && !c.IsSet("uio-device") {
		opts.fpga.UIODevice = cfg.UIODevice
	}
	if cfg.DMATxDevice != "" && !c.IsSet("dma-tx") {
		opts.fpga.TxDevice = cfg.DMATxDevice
	}
	if cfg.DMARxDevice != "" && !c.IsSet("dma-rx") {
		opts.fpga.RxDevice = cfg.DMARxDevice
	}
	if cfg.TransferTimeout != nil && !c.IsSet("transfer-timeout") {
		opts.transferTimeout = *cfg.TransferTimeout
	}
}

// applyAccelConfig applies the accelerator block to unset accelerator flags.
func applyAccelConfig(c *cli.Command, cfg AcceleratorConfig, a *accelFlags) {
	if cfg.Part != nil && !c.IsSet("part") {
		a.part = *cfg.Part
	}
	for _, f := range []struct {
		name string
		src  *int64
		dst  *int64
	}{
		{"rows", cfg.R, &a.r},
		{"cols", cfg.C, &a.c},
		{"bits", cfg.N, &a.n},
		{"es", cfg.Es, &a.es},
		{"qsize", cfg.QSize, &a.qsize},
		{"depth", cfg.Depth, &a.depth},
		{"threads", cfg.NumThreads, &a.threads},
	} {
		if f.src != nil && !c.IsSet(f.name) {
			*f.dst = *f.src
		}
	}
}

// resolveServer picks the address client commands dial: an explicit
// --server, then client_address, then server_address with a wildcard host
// swapped for loopback, then the flag default.
func resolveServer(c *cli.Command, cfg Config, flag string) string {
	switch {
	case c.IsSet("server"):
		return flag
	case cfg.ClientAddress != "":
		return cfg.ClientAddress
	case cfg.ServerAddress != "":
		return dialAddress(cfg.ServerAddress)
	}
	return flag
}

// dialAddress turns a listen address into one a local client can reach.
func dialAddress(listen string) string {
	if strings.Contains(listen, "://") {
		return listen
	}
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
