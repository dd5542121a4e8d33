// Package config provides configuration management for camarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultDeviceBaseURL      = "http://127.0.0.1:8000"
	defaultDeviceTimeout      = 10 * time.Second
	defaultPollInterval       = 5 * time.Second
	defaultFailureThreshold   = 1
	defaultStreamRetryBackoff = 2 * time.Second
	defaultMaxOpenConns       = 25
	defaultMaxIdleConns       = 10
	defaultConnMaxIdleTime    = 30 * time.Minute
	defaultDownloadRetries    = 3
	defaultDownloadRetryDelay = 1 * time.Second
	defaultMaxArchiveSize     = 100 * 1024 * 1024 // 100MB
	defaultCamdPort           = 8000
	defaultCamdReadTimeout    = 30 * time.Second
	defaultCamdShutdownWait   = 10 * time.Second
	defaultCamdStorageQuota   = 500 * 1024 * 1024 // 500MB
	defaultCamdFramerate      = 15
)

// Config holds all configuration for the application.
type Config struct {
	Device    DeviceConfig    `mapstructure:"device"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Library   LibraryConfig   `mapstructure:"library"`
	Timelapse TimelapseConfig `mapstructure:"timelapse"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Camd      CamdConfig      `mapstructure:"camd"`
}

// DeviceConfig holds the camera device endpoint configuration.
type DeviceConfig struct {
	// BaseURL is the root of the device HTTP API, e.g. "http://camera.local:8000".
	BaseURL string `mapstructure:"base_url"`
	// AuthToken, when set, is sent as a bearer token on every device request.
	AuthToken string `mapstructure:"auth_token" masq:"secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// PollerConfig holds status polling configuration.
type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// FailureThreshold is the number of consecutive poll failures before the
	// device is considered disconnected. 1 means the first failure flips it.
	FailureThreshold int `mapstructure:"failure_threshold"`
}

// StreamConfig holds live feed session configuration.
type StreamConfig struct {
	// RetryBackoff is the wait before the single reopen attempt after a feed error.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// JournalConfig holds command journal database configuration.
type JournalConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LibraryConfig holds media library configuration.
type LibraryConfig struct {
	DownloadDir string `mapstructure:"download_dir"`
	// ExportCompression selects the manifest compression: xz, gzip, or none.
	ExportCompression string `mapstructure:"export_compression"`
	// MaxArchiveSize bounds import archives. Accepts values like "100MB".
	MaxArchiveSize     ByteSize      `mapstructure:"max_archive_size"`
	DownloadRetries    int           `mapstructure:"download_retries"`
	DownloadRetryDelay time.Duration `mapstructure:"download_retry_delay"`
}

// TimelapseConfig holds scheduled capture configuration.
type TimelapseConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Schedule is a 5-field cron expression.
	Schedule string `mapstructure:"schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// CamdConfig holds the device simulator configuration.
type CamdConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout must stay 0 for the stream endpoint; a finite write timeout
	// would cut off multipart responses mid-feed.
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	StorageDir      string        `mapstructure:"storage_dir"`
	// StorageQuota bounds captured media on disk; oldest files are pruned.
	StorageQuota ByteSize `mapstructure:"storage_quota"`
	// Strict makes the simulated device reject capture/record while not
	// streaming, the way the physical device does.
	Strict    bool   `mapstructure:"strict"`
	Framerate int    `mapstructure:"framerate"`
	Mode      string `mapstructure:"mode"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with CAMARR_ and use underscores for nesting.
// Example: CAMARR_DEVICE_BASE_URL=http://camera.local:8000.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/camarr")
		v.AddConfigPath("$HOME/.camarr")
	}

	v.SetEnvPrefix("CAMARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file not found is OK; defaults and env vars still apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Defaults returns the configuration built from defaults alone, ignoring
// config files and environment variables.
func Defaults() (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling defaults: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Device defaults
	v.SetDefault("device.base_url", defaultDeviceBaseURL)
	v.SetDefault("device.auth_token", "")
	v.SetDefault("device.timeout", defaultDeviceTimeout)

	// Poller defaults
	v.SetDefault("poller.interval", defaultPollInterval)
	v.SetDefault("poller.failure_threshold", defaultFailureThreshold)

	// Stream defaults
	v.SetDefault("stream.retry_backoff", defaultStreamRetryBackoff)

	// Journal defaults
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.driver", "sqlite")
	v.SetDefault("journal.dsn", "camarr.db")
	v.SetDefault("journal.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("journal.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("journal.conn_max_lifetime", time.Hour)
	v.SetDefault("journal.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("journal.log_level", "warn")

	// Library defaults
	v.SetDefault("library.download_dir", "./media")
	v.SetDefault("library.export_compression", "xz")
	v.SetDefault("library.max_archive_size", defaultMaxArchiveSize)
	v.SetDefault("library.download_retries", defaultDownloadRetries)
	v.SetDefault("library.download_retry_delay", defaultDownloadRetryDelay)

	// Timelapse defaults
	v.SetDefault("timelapse.enabled", false)
	v.SetDefault("timelapse.schedule", "*/5 * * * *")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Simulator defaults
	v.SetDefault("camd.host", "0.0.0.0")
	v.SetDefault("camd.port", defaultCamdPort)
	v.SetDefault("camd.read_timeout", defaultCamdReadTimeout)
	v.SetDefault("camd.write_timeout", 0)
	v.SetDefault("camd.shutdown_timeout", defaultCamdShutdownWait)
	v.SetDefault("camd.storage_dir", "./camd-data")
	v.SetDefault("camd.storage_quota", defaultCamdStorageQuota)
	v.SetDefault("camd.strict", true)
	v.SetDefault("camd.framerate", defaultCamdFramerate)
	v.SetDefault("camd.mode", "720p")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Device validation
	if c.Device.BaseURL == "" {
		return fmt.Errorf("device.base_url is required")
	}
	u, err := url.Parse(c.Device.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("device.base_url must be an absolute URL")
	}
	if c.Device.Timeout <= 0 {
		return fmt.Errorf("device.timeout must be positive")
	}

	// Poller validation
	if c.Poller.Interval < 100*time.Millisecond {
		return fmt.Errorf("poller.interval must be at least 100ms")
	}
	if c.Poller.FailureThreshold < 1 {
		return fmt.Errorf("poller.failure_threshold must be at least 1")
	}

	// Stream validation
	if c.Stream.RetryBackoff < 0 {
		return fmt.Errorf("stream.retry_backoff must not be negative")
	}

	// Journal validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Journal.Driver] {
		return fmt.Errorf("journal.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Journal.Enabled && c.Journal.DSN == "" {
		return fmt.Errorf("journal.dsn is required")
	}
	validDBLevels := map[string]bool{"silent": true, "error": true, "warn": true, "info": true}
	if !validDBLevels[c.Journal.LogLevel] {
		return fmt.Errorf("journal.log_level must be one of: silent, error, warn, info")
	}
	if c.Journal.MaxOpenConns < 1 {
		return fmt.Errorf("journal.max_open_conns must be at least 1")
	}
	if c.Journal.MaxIdleConns < 0 {
		return fmt.Errorf("journal.max_idle_conns must not be negative")
	}

	// Library validation
	validCompression := map[string]bool{"xz": true, "gzip": true, "none": true}
	if !validCompression[c.Library.ExportCompression] {
		return fmt.Errorf("library.export_compression must be one of: xz, gzip, none")
	}
	if c.Library.DownloadRetries < 0 {
		return fmt.Errorf("library.download_retries must not be negative")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Simulator validation
	const maxPort = 65535
	if c.Camd.Port < 1 || c.Camd.Port > maxPort {
		return fmt.Errorf("camd.port must be between 1 and %d", maxPort)
	}
	if c.Camd.StorageDir == "" {
		return fmt.Errorf("camd.storage_dir is required")
	}
	if c.Camd.Framerate < 1 || c.Camd.Framerate > 120 {
		return fmt.Errorf("camd.framerate must be between 1 and 120")
	}

	return nil
}

// Address returns the simulator listen address in host:port format.
func (c *CamdConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
