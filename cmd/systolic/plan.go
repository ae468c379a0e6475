package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/systolic/internal/tile"
)

func planCmd() *cli.Command {
	var (
		m, k, n int64
		accfg   accelFlags
	)

	return &cli.Command{
		Name:  "plan",
		Usage: "Print the tile plan for an MxK by KxN product",
		Flags: append(accfg.flags(), shapeFlags(&m, &k, &n)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyAccelConfig(cmd, fileConfig.Accelerator, &accfg)
			p, err := tile.New(int(m), int(k), int(k), int(n), accfg.config().Geometry())
			if err != nil {
				return err
			}
			fmt.Printf("operands:   %dx%d * %dx%d\n", p.Ar, p.Ac, p.Br, p.Bc)
			fmt.Printf("array:      %dx%d depth %d\n", p.R, p.C, p.Depth)
			fmt.Printf("tiles:      %d x %d\n", p.TileRows, p.TileCols)
			fmt.Printf("padded:     %dx%d\n", p.PaddedRows, p.PaddedCols)
			fmt.Printf("rounds:     %d\n", p.Rounds)
			fmt.Printf("send:       %d x %d elements\n", p.SendHeight(), p.SendWidth())
			fmt.Printf("recv:       %d x %d elements\n", p.RecvHeight(), p.RecvWidth())
			return nil
		},
	}
}

func shapeFlags(m, k, n *int64) []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{Name: "m", Usage: "rows of A", Value: 64, Destination: m},
		&cli.Int64Flag{Name: "k", Usage: "columns of A and rows of B", Value: 64, Destination: k},
		&cli.Int64Flag{Name: "n", Usage: "columns of B", Value: 64, Destination: n},
	}
}
