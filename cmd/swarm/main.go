// Package main provides the CLI entry point for the swarm control
// plane.
package main

import (
	"fmt"
	"os"

	"github.com/coreswarm/swarm/internal/cmd"
)

// Version is the current version of the swarm application, injected at
// build time via -ldflags in a real release build.
var Version = "dev"

func main() {
	rootCmd := cmd.NewRootCommand(Version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
