package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/systolic/internal/client"
	"github.com/samcharles93/systolic/internal/logger"
)

func configureCmd() *cli.Command {
	var (
		server string
		force  bool
		accfg  accelFlags
	)

	return &cli.Command{
		Name:  "configure",
		Usage: "Load an accelerator configuration on a running server",
		Flags: append(accfg.flags(),
			serverFlag(&server),
			&cli.BoolFlag{
				Name:        "force",
				Usage:       "reload even if the configuration is unchanged",
				Destination: &force,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyAccelConfig(cmd, fileConfig.Accelerator, &accfg)
			cfg := accfg.config()
			c := client.New(resolveServer(cmd, fileConfig, server))
			if err := c.Configure(ctx, cfg, force); err != nil {
				return err
			}
			logger.FromContext(ctx).Info("accelerator configured", "image", cfg.Image().Name(), "threads", cfg.NumThreads)
			return nil
		},
	}
}
