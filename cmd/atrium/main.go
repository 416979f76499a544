// Package main provides the entry point for the atrium CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/atrium/cmd/atrium/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
