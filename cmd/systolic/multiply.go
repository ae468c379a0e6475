package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/systolic/internal/client"
	"github.com/samcharles93/systolic/internal/logger"
	"github.com/samcharles93/systolic/internal/precision"
	"github.com/samcharles93/systolic/internal/tensor"
)

var errMismatch = errors.New("accelerator result differs from host reference")

type multiplyOptions struct {
	m, k, n int64
	seed    int64
	limit   int64
	verify  bool
}

func (o multiplyOptions) validate() error {
	if o.m < 1 || o.k < 1 || o.n < 1 {
		return fmt.Errorf("shape %dx%dx%d: every dimension must be positive", o.m, o.k, o.n)
	}
	if o.limit < 0 || o.limit > math.MaxUint32 {
		return fmt.Errorf("limit %d out of range", o.limit)
	}
	return nil
}

func multiplyCmd() *cli.Command {
	var (
		server string
		opts   multiplyOptions
	)

	return &cli.Command{
		Name:  "multiply",
		Usage: "Multiply random operands on a running server",
		Flags: append(shapeFlags(&opts.m, &opts.k, &opts.n),
			serverFlag(&server),
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "operand generator seed",
				Value:       1,
				Destination: &opts.seed,
			},
			&cli.Int64Flag{
				Name:        "limit",
				Usage:       "exclusive upper bound on operand values (0 uses the full range)",
				Value:       16,
				Destination: &opts.limit,
			},
			&cli.BoolFlag{
				Name:        "verify",
				Usage:       "check the result against the host reference product",
				Value:       true,
				Destination: &opts.verify,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := opts.validate(); err != nil {
				return err
			}
			c := client.New(resolveServer(cmd, fileConfig, server))
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if !st.Configured || st.Config == nil {
				return errors.New("server has no accelerator configured; run configure first")
			}
			class, err := precision.Resolve(st.Config.N)
			if err != nil {
				return err
			}
			switch class {
			case precision.Class8:
				return runMultiply[uint8](ctx, c, opts)
			case precision.Class16:
				return runMultiply[uint16](ctx, c, opts)
			default:
				return runMultiply[uint32](ctx, c, opts)
			}
		},
	}
}

func runMultiply[T precision.Element](ctx context.Context, c *client.Client, opts multiplyOptions) error {
	log := logger.FromContext(ctx)

	a := tensor.New[T](int(opts.m), int(opts.k))
	b := tensor.New[T](int(opts.k), int(opts.n))
	tensor.FillRand(a, opts.seed, uint32(opts.limit))
	tensor.FillRand(b, opts.seed+1, uint32(opts.limit))

	start := time.Now()
	y, err := client.Multiply(ctx, c, a, b)
	if err != nil {
		return err
	}
	log.Info("multiply complete",
		"shape", fmt.Sprintf("%dx%dx%d", opts.m, opts.k, opts.n),
		"precision", precision.Of[T]().String(),
		"elapsed", time.Since(start),
	)

	if !opts.verify {
		return nil
	}
	want := tensor.Mul(a, b)
	if !want.Equal(y) {
		return fmt.Errorf("%w (%dx%d result)", errMismatch, y.Rows, y.Cols)
	}
	log.Info("result verified")
	return nil
}
