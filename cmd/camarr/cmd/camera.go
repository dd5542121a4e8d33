package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start camera streaming",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop camera streaming",
	RunE:  runStop,
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the camera subsystem",
	Long: `Restart the camera subsystem in one device call. Any in-progress
recording is discarded by the device; the refreshed state is confirmed
before the command returns.`,
	RunE: runRestart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
}

func runStart(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.refresh(ctx); err != nil {
		return err
	}
	if err := a.dispatcher.StartStream(ctx); err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}

	fmt.Println("streaming started")
	return nil
}

func runStop(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.refresh(ctx); err != nil {
		return err
	}
	if err := a.dispatcher.StopStream(ctx); err != nil {
		return fmt.Errorf("stopping stream: %w", err)
	}

	fmt.Println("streaming stopped")
	return nil
}

func runRestart(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.refresh(ctx); err != nil {
		return err
	}
	if err := a.dispatcher.Restart(ctx); err != nil {
		return fmt.Errorf("restarting camera: %w", err)
	}

	snap := a.store.Get()
	fmt.Printf("camera restarted (power %s, streaming %s)\n", snap.Power, yesNo(snap.Streaming))
	return nil
}
