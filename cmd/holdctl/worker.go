package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/kiranshivaraju/holdseg/internal/cache"
	"github.com/kiranshivaraju/holdseg/internal/config"
	"github.com/kiranshivaraju/holdseg/internal/pipeline"
	"github.com/kiranshivaraju/holdseg/internal/pool"
	"github.com/spf13/cobra"
)

// replyFD is the first ExtraFiles descriptor handed over by the pool.
const replyFD = 3

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Serve predictions for the server's worker pool over stdin and fd 3",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		replies := os.NewFile(replyFD, "replies")
		if replies == nil {
			return errors.New("fd 3 is not open; holdctl worker must be started by the server")
		}
		defer replies.Close()

		c, err := cache.Open(ctx, cfg.Redis.URL)
		if err != nil {
			slog.Warn("prediction cache unavailable, continuing without it", "error", err)
			c = cache.Nop{}
		}
		defer c.Close()

		slog.Debug("worker starting", "pid", os.Getpid(), "runtime", cfg.Model.Runtime)
		return pool.ServeProcess(ctx, pipeline.Loader(cfg, c), cfg.Model.Runtime, os.Stdin, replies)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
