// Package main is the entry point for the battery-pricing CLI.
package main

import (
	"os"

	"battery-pricing/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
