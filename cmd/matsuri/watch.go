package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/matsuri/internal/config"
	"github.com/harunnryd/matsuri/internal/paths"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Produce digests on a schedule until interrupted",
	Long:  `Runs the full fetch-and-classify cycle on the cron schedule from watch.schedule. A tick that finds another run in progress is skipped, and a failed tick does not stop the watch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		schedule := cfg.Watch.Schedule
		if schedule == "" {
			schedule = config.DefaultWatchSchedule
		}
		cronSchedule, err := cron.ParseStandard(schedule)
		if err != nil {
			return fmt.Errorf("watch.schedule: %w", err)
		}

		immediate, _ := cmd.Flags().GetBool("immediate")

		handler := NewSignalHandler(context.Background())
		handler.Start()
		defer handler.Stop()
		ctx := handler.Context()

		slog.Info("Watch mode started", "schedule", schedule)

		if immediate {
			runTick(ctx, cfg)
		}

		for {
			next := cronSchedule.Next(time.Now())
			slog.Info("Next run scheduled", "at", next.Format(time.RFC3339))

			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				slog.Info("Watch mode stopped")
				return nil
			case <-timer.C:
				runTick(ctx, cfg)
			}
		}
	},
}

func runTick(ctx context.Context, cfg *config.Config) {
	err := executeRun(ctx, cfg, runOptions{})
	switch {
	case err == nil:
	case errors.Is(err, paths.ErrLockHeld):
		slog.Warn("Skipping tick, another run is in progress")
	case errors.Is(err, context.Canceled):
	default:
		slog.Error("Scheduled run failed", "error", err)
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Bool("immediate", false, "run once at startup before waiting for the schedule")
}
