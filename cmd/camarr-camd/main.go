// Package main is the entry point for the camarr-camd simulator.
//
// camarr-camd is an HTTP camera device simulator that speaks the same
// wire API as the physical device: status and control endpoints, still
// capture, recording, an on-disk media library, and a live MJPEG feed
// served as multipart/x-mixed-replace. It exists so camarr can be
// developed and tested without camera hardware.
package main

import (
	"os"

	"github.com/jmylchreest/camarr/cmd/camarr-camd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
