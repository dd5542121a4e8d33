package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture a still picture",
	Long: `Capture a still picture on the device. The device keeps the file in
its on-disk library; use "camarr library download" to fetch it.`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.refresh(ctx); err != nil {
		return err
	}

	result, err := a.dispatcher.Capture(ctx)
	if err != nil {
		return fmt.Errorf("capturing picture: %w", err)
	}

	fmt.Printf("captured %s\n", result.Filename)
	if result.URL != "" {
		fmt.Printf("  url: %s\n", result.URL)
	}
	return nil
}
