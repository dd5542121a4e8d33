package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/camarr/internal/camd"
	"github.com/jmylchreest/camarr/internal/config"
	"github.com/jmylchreest/camarr/internal/version"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the camera device simulator",
	Long: `Start the camarr-camd HTTP server.

The simulator will:
1. Load the camd.* configuration (file, environment, flags)
2. Create the media storage directory and prune it to the quota
3. Serve the device API until interrupted

Examples:
  # Serve on the default port
  camarr-camd serve

  # Lenient device on another port with a fixed mode
  camarr-camd serve --port 8001 --strict=false --mode 1080p`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Serve-specific flags
	serveCmd.Flags().String("host", "", "host to bind to (overrides camd.host)")
	serveCmd.Flags().Int("port", 0, "port to listen on (overrides camd.port)")
	serveCmd.Flags().String("storage-dir", "", "media directory (overrides camd.storage_dir)")
	serveCmd.Flags().Bool("strict", true, "reject capture/record while not streaming (overrides camd.strict)")
	serveCmd.Flags().String("mode", "", "initial capture mode (overrides camd.mode)")
	serveCmd.Flags().Int("framerate", 0, "feed framerate cap (overrides camd.framerate)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	info := version.GetInfo()
	logger.Info("camarr-camd starting",
		slog.String("version", info.Version),
		slog.String("commit", info.Commit),
		slog.String("built", info.Date),
		slog.String("go", info.GoVersion),
		slog.String("platform", info.Platform),
	)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd.Flags(), &cfg.Camd)

	server, err := camd.NewServer(cfg.Camd, logger)
	if err != nil {
		return fmt.Errorf("initializing simulator: %w", err)
	}

	logger.Info("simulator configured",
		slog.String("address", cfg.Camd.Address()),
		slog.String("mode", cfg.Camd.Mode),
		slog.Bool("strict", cfg.Camd.Strict),
		slog.String("storage_dir", cfg.Camd.StorageDir),
		slog.String("storage_quota", cfg.Camd.StorageQuota.String()),
	)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	return server.ListenAndServe(ctx)
}

// applyServeFlags overlays explicitly-set CLI flags onto the camd config.
func applyServeFlags(flags *pflag.FlagSet, cfg *config.CamdConfig) {
	if flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("storage-dir") {
		cfg.StorageDir, _ = flags.GetString("storage-dir")
	}
	if flags.Changed("strict") {
		cfg.Strict, _ = flags.GetBool("strict")
	}
	if flags.Changed("mode") {
		cfg.Mode, _ = flags.GetString("mode")
	}
	if flags.Changed("framerate") {
		cfg.Framerate, _ = flags.GetInt("framerate")
	}
}
