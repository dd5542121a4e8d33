package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/camarr/internal/config"
	"github.com/jmylchreest/camarr/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for inspecting camarr configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  camarr config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., ./configs, /etc/camarr, or ~/.camarr)
  - Environment variables (CAMARR_DEVICE_BASE_URL, CAMARR_POLLER_INTERVAL, etc.)
  - Command-line flags (for some options)

Environment variables use the CAMARR_ prefix and underscores for nesting.
Example: device.base_url -> CAMARR_DEVICE_BASE_URL`,
	RunE: runConfigDump,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration as camarr resolves it: defaults, then the
config file, then environment variables. Secrets are redacted.`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
	configCmd.AddCommand(configShowCmd)
}

// toMap converts a config struct to a map, formatting durations and byte
// sizes for human readability and redacting fields tagged as secrets.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		if fieldType.Tag.Get("masq") == "secret" {
			if s, ok := field.Interface().(string); ok && s != "" {
				result[key] = "[REDACTED]"
			} else {
				result[key] = field.Interface()
			}
			continue
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		case config.ByteSize:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Defaults()
	if err != nil {
		return fmt.Errorf("loading defaults: %w", err)
	}
	return printConfig(cfg, "# All values shown below are defaults.")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return printConfig(cfg, "# Values shown below are the resolved effective configuration.")
}

func printConfig(cfg *config.Config, note string) error {
	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# camarr Configuration File")
	fmt.Println("# ==========================")
	fmt.Println("#")
	fmt.Println(note)
	fmt.Println("# Duration format: 30s, 5m, 1h")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   CAMARR_DEVICE_BASE_URL, CAMARR_DEVICE_AUTH_TOKEN")
	fmt.Println("#   CAMARR_POLLER_INTERVAL, CAMARR_POLLER_FAILURE_THRESHOLD")
	fmt.Println("#   CAMARR_JOURNAL_DRIVER, CAMARR_JOURNAL_DSN")
	fmt.Println("#   CAMARR_LOGGING_LEVEL, CAMARR_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
