package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/systolic/internal/accel"
	"github.com/samcharles93/systolic/internal/api"
	"github.com/samcharles93/systolic/internal/device"
	"github.com/samcharles93/systolic/internal/device/fpga"
	"github.com/samcharles93/systolic/internal/device/sim"
	"github.com/samcharles93/systolic/internal/gemm"
	"github.com/samcharles93/systolic/internal/logger"
	"github.com/samcharles93/systolic/internal/version"
)

type serveOptions struct {
	addr            string
	device          string
	fpga            fpga.Options
	transferTimeout time.Duration
	readTimeout     time.Duration
	maxBodyBytes    int64
	maxWorkingBytes int64
}

func serveCmd() *cli.Command {
	var (
		opts  = serveOptions{fpga: fpga.DefaultOptions()}
		accfg accelFlags
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Load the default bitstream and serve GEMM requests over HTTP",
		Flags: append(accfg.flags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "0.0.0.0:8080",
				Destination: &opts.addr,
			},
			&cli.StringFlag{
				Name:        "device",
				Usage:       "accelerator backend (fpga, sim)",
				Value:       "fpga",
				Destination: &opts.device,
			},
			&cli.StringFlag{
				Name:        "bitstream-dir",
				Usage:       "directory the FPGA manager loads bitstreams from",
				Value:       opts.fpga.BitstreamDir,
				Destination: &opts.fpga.BitstreamDir,
			},
			&cli.StringFlag{
				Name:        "uio-device",
				Usage:       "UIO device mapping the control registers",
				Value:       opts.fpga.UIODevice,
				Destination: &opts.fpga.UIODevice,
			},
			&cli.StringFlag{
				Name:        "dma-tx",
				Usage:       "MM2S DMA channel device",
				Value:       opts.fpga.TxDevice,
				Destination: &opts.fpga.TxDevice,
			},
			&cli.StringFlag{
				Name:        "dma-rx",
				Usage:       "S2MM DMA channel device",
				Value:       opts.fpga.RxDevice,
				Destination: &opts.fpga.RxDevice,
			},
			&cli.DurationFlag{
				Name:        "transfer-timeout",
				Usage:       "deadline for a single DMA transfer (0 disables)",
				Value:       gemm.DefaultTransferTimeout,
				Destination: &opts.transferTimeout,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &opts.readTimeout,
			},
			&cli.Int64Flag{
				Name:        "max-body-bytes",
				Usage:       "largest accepted multiply request body",
				Value:       api.DefaultMaxBodyBytes,
				Destination: &opts.maxBodyBytes,
			},
			&cli.Int64Flag{
				Name:        "max-working-bytes",
				Usage:       "largest host buffer set one multiply may allocate, padding included",
				Value:       api.DefaultMaxWorkingBytes,
				Destination: &opts.maxWorkingBytes,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, fileConfig, &opts)
			applyAccelConfig(cmd, fileConfig.Accelerator, &accfg)

			ctrl, err := newControl(opts)
			if err != nil {
				return err
			}
			manager := accel.NewManager(ctrl)
			defer func() { _ = manager.Close() }()

			if _, err := manager.Load(ctx, accfg.config(), false); err != nil {
				return fmt.Errorf("load startup configuration: %w", err)
			}

			server := api.NewServer(manager, api.Options{
				TransferTimeout: opts.transferTimeout,
				MaxBodyBytes:    opts.maxBodyBytes,
				MaxWorkingBytes: opts.maxWorkingBytes,
				Logger:          log,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", opts.addr, "device", opts.device, "version", version.String())
			sc := echo.StartConfig{
				Address: opts.addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = opts.readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

func newControl(opts serveOptions) (device.Control, error) {
	switch opts.device {
	case "fpga":
		return fpga.New(opts.fpga), nil
	case "sim":
		return sim.New(), nil
	default:
		return nil, fmt.Errorf("unknown device %q (want fpga or sim)", opts.device)
	}
}
