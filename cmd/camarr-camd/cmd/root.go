// Package cmd implements the CLI commands for camarr-camd.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/camarr/internal/config"
	"github.com/jmylchreest/camarr/internal/observability"
	"github.com/jmylchreest/camarr/internal/version"
)

// camdViper is a separate viper instance for simulator configuration so
// logging can be initialized before the typed config is loaded.
var camdViper = viper.New()

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "camarr-camd",
	Short:   "Camera device simulator for camarr",
	Version: version.Short(),
	Long: `camarr-camd simulates a network camera over HTTP.

It serves the device API camarr polls and commands: status, streaming
start/stop/restart, capture modes, still capture, recording, media
listings with file serving, and a live MJPEG feed.

Configuration uses the camd.* section of the camarr config, e.g.:
  CAMARR_CAMD_PORT         - Listen port (default 8000)
  CAMARR_CAMD_STORAGE_DIR  - Media directory (default ./camd-data)
  CAMARR_CAMD_STRICT       - Reject capture/record while not streaming

Example:
  CAMARR_CAMD_PORT=8000 camarr-camd serve`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set PersistentPreRunE for logging initialization
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/camarr, ~/.camarr)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads environment variables for simulator configuration.
func initConfig() {
	camdViper.SetEnvPrefix("CAMARR")
	camdViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	camdViper.AutomaticEnv()

	camdViper.SetDefault("logging.level", "info")
	camdViper.SetDefault("logging.format", "json")
}

// initLogging configures the slog logger for the simulator.
func initLogging() error {
	// Start with config/env values
	level := camdViper.GetString("logging.level")
	format := camdViper.GetString("logging.format")

	// Override with CLI flags only if explicitly set
	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}

	logCfg := config.LoggingConfig{
		Level:  strings.ToLower(level),
		Format: strings.ToLower(format),
	}

	// Handle "warning" as an alias for "warn"
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	// Use observability package to create logger with sensitive data redaction
	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	observability.SetDefault(logger)

	return nil
}
