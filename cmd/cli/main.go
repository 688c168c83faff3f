// Package main is the entry point for genctl, the terminal client for the
// genplane API.
package main

import (
	"os"

	"genplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
