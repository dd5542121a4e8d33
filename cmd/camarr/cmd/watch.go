package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/camarr/internal/models"
	"github.com/jmylchreest/camarr/internal/streamsession"
	"github.com/jmylchreest/camarr/internal/timelapse"
	"github.com/jmylchreest/camarr/internal/version"
)

var watchStream bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the device and log state transitions",
	Long: `Poll the device on the configured interval and log every visible
state transition: connectivity, power, streaming, capture mode, and
recording. With --stream the live MJPEG feed is consumed as well, which
keeps the device's streaming session warm and reports feed health.

Timelapse captures run alongside when timelapse.enabled is set.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchStream, "stream", false, "consume the live MJPEG feed while watching")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	logger := slog.Default()

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	// Subscribe before the first poll so no transition is missed.
	snapshots, unsubscribe := a.store.Subscribe()
	defer unsubscribe()

	// A failed first poll is not fatal: the poller flips the snapshot to
	// disconnected on its own once the failure threshold is reached.
	if _, err := a.poller.RefreshNow(ctx); err != nil {
		logger.Warn("initial device poll failed",
			slog.String("device", a.cfg.Device.BaseURL),
			slog.String("error", err.Error()),
		)
	}

	if err := a.poller.Start(ctx); err != nil {
		return fmt.Errorf("starting poller: %w", err)
	}
	defer a.poller.Stop()

	if watchStream {
		session := streamsession.New(a.client, a.store).
			WithLogger(logger).
			WithConfig(a.cfg.Stream).
			OnTransition(func(state streamsession.State, err error) {
				if err != nil {
					logger.Warn("feed session transition",
						slog.String("state", string(state)),
						slog.String("error", err.Error()),
					)
					return
				}
				logger.Info("feed session transition", slog.String("state", string(state)))
			})
		if err := session.Start(ctx); err != nil {
			return fmt.Errorf("starting feed session: %w", err)
		}
		defer session.Stop()
	}

	if a.cfg.Timelapse.Enabled {
		lapse := timelapse.New(a.dispatcher).
			WithLogger(logger).
			WithConfig(a.cfg.Timelapse)
		if a.media != nil {
			lapse = lapse.WithMediaIndex(a.media)
		}
		if err := lapse.Start(ctx); err != nil {
			return fmt.Errorf("starting timelapse: %w", err)
		}
		defer lapse.Stop()
	}

	logger.Info("watching device",
		slog.String("device", a.cfg.Device.BaseURL),
		slog.Duration("poll_interval", a.cfg.Poller.Interval),
		slog.Bool("stream", watchStream),
		slog.Bool("timelapse", a.cfg.Timelapse.Enabled),
		slog.String("version", version.GetInfo().Version),
	)

	previous := a.store.Get()
	for {
		select {
		case <-ctx.Done():
			logger.Info("watch stopped")
			return nil
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			logTransitions(logger, previous, snap)
			previous = snap
		}
	}
}

// logTransitions logs each visible field that changed between two snapshots.
func logTransitions(logger *slog.Logger, prev, next models.DeviceSnapshot) {
	if next.Connectivity != prev.Connectivity {
		logger.Info("connectivity changed",
			slog.String("from", string(prev.Connectivity)),
			slog.String("to", string(next.Connectivity)),
		)
	}
	if next.Power != prev.Power {
		logger.Info("power changed",
			slog.String("from", string(prev.Power)),
			slog.String("to", string(next.Power)),
		)
	}
	if next.Streaming != prev.Streaming {
		logger.Info("streaming changed", slog.Bool("streaming", next.Streaming))
	}
	if next.ModeID() != prev.ModeID() {
		logger.Info("mode changed",
			slog.String("from", prev.ModeID()),
			slog.String("to", next.ModeID()),
		)
	}
	if next.Recording.Active != prev.Recording.Active {
		if next.Recording.Active {
			logger.Info("recording started", slog.String("filename", next.Recording.Filename))
		} else {
			logger.Info("recording stopped", slog.String("filename", prev.Recording.Filename))
		}
	}
}
