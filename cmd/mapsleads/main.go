// Package main is the entry point for the mapsleads CLI.
package main

import (
	"os"

	"github.com/jmylchreest/mapsleads/cmd/mapsleads/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
