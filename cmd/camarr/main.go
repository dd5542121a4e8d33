// Package main is the entry point for the camarr application.
package main

import (
	"os"

	"github.com/jmylchreest/camarr/cmd/camarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
