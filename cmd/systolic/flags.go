package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/systolic/internal/accel"
	"github.com/samcharles93/systolic/internal/logger"
)

var (
	configFile string
	fileConfig Config
	logLevel   string
	logFormat  string
	debug      bool
)

func rootFlags() []cli.Flag {
	return append(loggingFlags(),
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: user config dir)",
			Destination: &configFile,
		},
	)
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// setup reads the config file and installs the logger every command pulls
// from its context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := configFile
	if path == "" {
		path = configPath()
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return ctx, err
	}
	fileConfig = cfg
	applyLoggingConfig(cmd, cfg)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	return logger.WithContext(ctx, logger.ForFormat(os.Stderr, logFormat, level)), nil
}

func serverFlag(dst *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "server",
		Aliases:     []string{"s"},
		Usage:       "address of a running systolic server",
		Value:       "127.0.0.1:8080",
		Destination: dst,
	}
}

// accelFlags binds the accelerator parameters to command-line flags.
type accelFlags struct {
	part    string
	r       int64
	c       int64
	n       int64
	es      int64
	qsize   int64
	depth   int64
	threads int64
}

func (a *accelFlags) flags() []cli.Flag {
	def := accel.DefaultConfig()
	intFlag := func(name, usage string, value int, dst *int64) cli.Flag {
		return &cli.Int64Flag{Name: name, Usage: usage, Value: int64(value), Destination: dst}
	}
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "part",
			Usage:       "board part name used in the bitstream file name",
			Value:       def.Part,
			Destination: &a.part,
		},
		intFlag("rows", "systolic array rows (R)", def.R, &a.r),
		intFlag("cols", "systolic array columns (C)", def.C, &a.c),
		intFlag("bits", "element width in bits (N)", def.N, &a.n),
		intFlag("es", "exponent size baked into the bitstream", def.Es, &a.es),
		intFlag("qsize", "accumulator queue size baked into the bitstream", def.QSize, &a.qsize),
		intFlag("depth", "pipeline depth", def.Depth, &a.depth),
		intFlag("threads", "host threads used to encode streams", def.NumThreads, &a.threads),
	}
}

func (a *accelFlags) config() accel.Config {
	return accel.Config{
		Part:       a.part,
		R:          int(a.r),
		C:          int(a.c),
		N:          int(a.n),
		Es:         int(a.es),
		QSize:      int(a.qsize),
		Depth:      int(a.depth),
		NumThreads: int(a.threads),
	}
}
