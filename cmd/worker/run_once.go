package main

import (
	"context"
	"fmt"

	"github.com/oriys/taskworker/internal/obslog"
	"github.com/oriys/taskworker/internal/obstrace"
	"github.com/oriys/taskworker/internal/task"
	"github.com/spf13/cobra"
)

func runOnceCmd() *cobra.Command {
	var flags cliFlags

	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Consume exactly one delivery to terminal ack, then exit (OneShot mode)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if err := initObservability(cfg); err != nil {
				return err
			}
			defer obstrace.Shutdown(context.Background())

			mode := task.OneShotMode()
			r := buildRunner(cfg, mode)

			if err := r.Connect(); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			if err := r.Start(); err != nil {
				return fmt.Errorf("start: %w", err)
			}

			obslog.Op().Info("worker run-once started", "mode", "one-shot")

			runErr := r.Run(context.Background())

			teardownCtx := context.Background()
			if err := r.Teardown(teardownCtx); err != nil {
				obslog.Op().Warn("worker: teardown error", "error", err)
			}
			return runErr
		},
	}

	registerFlags(cmd, &flags)
	return cmd
}
