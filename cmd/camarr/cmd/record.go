package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/camarr/pkg/format"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Control video recording",
}

var recordStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a recording",
	RunE:  runRecordStart,
}

var recordStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active recording",
	RunE:  runRecordStop,
}

func init() {
	recordCmd.AddCommand(recordStartCmd)
	recordCmd.AddCommand(recordStopCmd)
	rootCmd.AddCommand(recordCmd)
}

func runRecordStart(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.refresh(ctx); err != nil {
		return err
	}

	filename, err := a.dispatcher.StartRecording(ctx)
	if err != nil {
		return fmt.Errorf("starting recording: %w", err)
	}

	fmt.Printf("recording to %s\n", filename)
	return nil
}

func runRecordStop(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.refresh(ctx); err != nil {
		return err
	}

	result, err := a.dispatcher.StopRecording(ctx)
	if err != nil {
		return fmt.Errorf("stopping recording: %w", err)
	}

	fmt.Printf("recorded %s (%s)\n", result.Filename, format.Seconds(result.Duration.Seconds()))
	if result.URL != "" {
		fmt.Printf("  url: %s\n", result.URL)
	}
	return nil
}
