// Package main provides the CLI entry point for the pulse realtime engine.
//
// Pulse powers the realtime layer of a job marketplace: per-user delivery
// queues, conversation lifecycle between hirers and fixers, templated
// notifications, and the content gate for user-authored text.
//
// # Basic Usage
//
// Start the server:
//
//	pulse serve --config pulse.yaml
//
// Validate a configuration file:
//
//	pulse check --config pulse.yaml
//
// # Environment Variables
//
//   - PULSE_CONFIG: Path to configuration file (default: pulse.yaml)
//   - PULSE_JWT_SECRET: referenced from the config file via ${PULSE_JWT_SECRET}
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pulse",
		Short: "Pulse - realtime delivery engine for the fixmarket job marketplace",
		Long: `Pulse delivers realtime events between hirers and fixers: notifications,
conversation lifecycle, private messaging permissions, and content moderation.

Clients attach over websocket; upstream services report domain events through
the internal HTTP API.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildCheckCmd(),
	)
	return rootCmd
}

func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("PULSE_CONFIG"); env != "" {
		return env
	}
	return "pulse.yaml"
}
