package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/camarr/internal/timelapse"
)

var timelapseSchedule string

var timelapseCmd = &cobra.Command{
	Use:   "timelapse",
	Short: "Capture stills on a cron schedule",
	Long: `Capture stills on a cron schedule until interrupted. Captures that
collide with another in-flight command are skipped, not queued; the
device is polled between boundaries so preconditions are checked against
fresh state. Indexed captures appear in "camarr library pictures".`,
	RunE: runTimelapse,
}

func init() {
	rootCmd.AddCommand(timelapseCmd)

	timelapseCmd.Flags().StringVar(&timelapseSchedule, "schedule", "", "5-field cron expression (overrides timelapse.schedule)")
}

func runTimelapse(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	logger := slog.Default()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	if err := a.refresh(ctx); err != nil {
		return err
	}
	if err := a.poller.Start(ctx); err != nil {
		return fmt.Errorf("starting poller: %w", err)
	}
	defer a.poller.Stop()

	cfg := a.cfg.Timelapse
	if timelapseSchedule != "" {
		cfg.Schedule = timelapseSchedule
	}

	lapse := timelapse.New(a.dispatcher).
		WithLogger(logger).
		WithConfig(cfg)
	if a.media != nil {
		lapse = lapse.WithMediaIndex(a.media)
	}
	if err := lapse.Start(ctx); err != nil {
		return fmt.Errorf("starting timelapse: %w", err)
	}
	defer lapse.Stop()

	logger.Info("timelapse running",
		slog.String("device", a.cfg.Device.BaseURL),
		slog.String("schedule", cfg.Schedule),
		slog.Time("next_run", lapse.Stats().NextRun),
	)

	<-ctx.Done()

	stats := lapse.Stats()
	logger.Info("timelapse stopped",
		slog.Int64("captured", stats.Captured),
		slog.Int64("skipped", stats.Skipped),
		slog.Int64("failed", stats.Failed),
	)
	return nil
}
