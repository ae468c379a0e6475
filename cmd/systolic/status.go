package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/systolic/internal/client"
)

func statusCmd() *cli.Command {
	var server string

	return &cli.Command{
		Name:  "status",
		Usage: "Show the configuration loaded on a running server",
		Flags: []cli.Flag{serverFlag(&server)},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c := client.New(resolveServer(cmd, fileConfig, server))
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if !st.Configured || st.Config == nil {
				fmt.Println("configured: no")
				return nil
			}
			fmt.Printf("configured: yes\n")
			if !st.Ready {
				fmt.Println("ready:      no (last load failed; run configure)")
			}
			fmt.Printf("image:      %s\n", st.Image)
			fmt.Printf("array:      %dx%d depth %d\n", st.Config.R, st.Config.C, st.Config.Depth)
			fmt.Printf("precision:  %s (N=%d)\n", st.Precision, st.Config.N)
			fmt.Printf("threads:    %d\n", st.Config.NumThreads)
			return nil
		},
	}
}
