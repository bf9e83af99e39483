// Package main provides the CLI entry point for the Sidekick local assistant.
//
// Sidekick routes each user message through a layered intent router, gates
// tool exposure by intent, and answers with the deterministic utility engine,
// the search pipeline, or a bounded tool loop over configured tool servers.
// Every tool invocation and permission decision lands in an append-only
// JSONL audit log.
//
// # Basic Usage
//
// Start an interactive chat session:
//
//	sidekick chat --config sidekick.yaml
//
// Ask a single question without entering the REPL:
//
//	sidekick chat -m "what time is it in Tokyo?"
//
// Inspect the audit log:
//
//	sidekick audit tail -n 50
//
// Validate a configuration file:
//
//	sidekick config validate --config sidekick.yaml
//
// # Environment Variables
//
//   - SIDEKICK_CONFIG: path to the configuration file (default: platform
//     config dir, e.g. ~/.config/sidekick/sidekick.yaml)
//   - API keys are referenced from the config file via ${VAR} expansion,
//     e.g. api_key: ${ANTHROPIC_API_KEY}
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/sidekick/internal/config"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// main is the entry point for the Sidekick CLI.
func main() {
	// Default logger until the chat command installs the configured one.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sidekick",
		Short: "Sidekick - Local AI assistant with audited tool use",
		Long: `Sidekick is a local AI assistant that answers deterministic questions
without an LLM, gates tool exposure by message intent, and records every
tool call in an append-only audit log.

Supported LLM providers: local (OpenAI-compatible), OpenAI, Anthropic
Tool servers: stdio, HTTP, and WebSocket transports`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildAuditCmd(),
		buildConfigCmd(),
		buildToolsCmd(),
	)

	return rootCmd
}

// resolveConfigPath picks the effective config file: explicit flag first,
// then SIDEKICK_CONFIG, then the platform default location.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("SIDEKICK_CONFIG")); env != "" {
		return env
	}
	return config.DefaultPath()
}

// loadConfigOrDefault loads the config file, falling back to built-in
// defaults when no file exists yet. A file that exists but fails to parse
// is still an error; silently ignoring a broken config would be worse.
func loadConfigOrDefault(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("no config file found, using defaults", "path", path)
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}
