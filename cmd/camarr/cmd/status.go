package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/camarr/pkg/format"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the device status",
	Long: `Fetch and display the device's current status: power, streaming,
capture mode, recording state, and diagnostics.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newDeviceClient(cfg)
	if err != nil {
		return err
	}

	st, err := client.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetching device status: %w", err)
	}

	if statusJSON {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding status: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Device:      %s\n", cfg.Device.BaseURL)
	fmt.Printf("Power:       %s\n", st.Status)
	fmt.Printf("Streaming:   %s\n", yesNo(st.Streaming))
	if mode := st.CurrentMode; mode != nil {
		fmt.Printf("Mode:        %s (%dx%d @ %gfps)\n", mode.ID, mode.Width, mode.Height, mode.Framerate)
	}
	if st.Recording.Active {
		fmt.Printf("Recording:   %s (%s)\n", st.Recording.Filename, format.Seconds(st.Recording.ElapsedSeconds))
	} else {
		fmt.Printf("Recording:   none\n")
	}
	if at, ok := st.LastAccessTime(); ok {
		fmt.Printf("Last access: %s\n", format.RelativeTime(at))
	} else {
		fmt.Printf("Last access: never\n")
	}
	if st.UptimeSeconds > 0 {
		fmt.Printf("Uptime:      %s\n", format.Seconds(st.UptimeSeconds))
	}
	if st.TemperatureC > 0 {
		fmt.Printf("Temperature: %.1f°C\n", st.TemperatureC)
	}

	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
