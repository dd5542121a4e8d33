package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Inspect or change the capture mode",
}

var modeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the capture modes the device offers",
	RunE:  runModeList,
}

var modeSetCmd = &cobra.Command{
	Use:   "set <mode-id>",
	Short: "Switch the device to a capture mode",
	Args:  cobra.ExactArgs(1),
	RunE:  runModeSet,
}

func init() {
	modeCmd.AddCommand(modeListCmd)
	modeCmd.AddCommand(modeSetCmd)
	rootCmd.AddCommand(modeCmd)
}

func runModeList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newDeviceClient(cfg)
	if err != nil {
		return err
	}

	modes, err := client.Modes(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing modes: %w", err)
	}

	fmt.Printf("%-10s %-20s %-12s %-6s\n", "ID", "NAME", "RESOLUTION", "FPS")
	for _, m := range modes.AvailableModes {
		marker := ""
		if m.ID == modes.CurrentMode {
			marker = "  (current)"
		}
		fmt.Printf("%-10s %-20s %-12s %-6g%s\n",
			m.ID, m.Name, fmt.Sprintf("%dx%d", m.Width, m.Height), m.Framerate, marker)
	}
	return nil
}

func runModeSet(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.refresh(ctx); err != nil {
		return err
	}
	if err := a.dispatcher.ChangeMode(ctx, args[0]); err != nil {
		return fmt.Errorf("changing mode: %w", err)
	}

	snap := a.store.Get()
	fmt.Printf("mode set to %s", args[0])
	if mode := snap.Mode; mode != nil && mode.ID == args[0] {
		fmt.Printf(" (%s @ %gfps)", mode.Resolution(), mode.Framerate)
	}
	fmt.Println()
	return nil
}
