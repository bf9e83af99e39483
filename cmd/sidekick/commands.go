// Package main provides the CLI entry point for the Sidekick local assistant.
//
// commands.go contains all cobra command definitions and their flag
// configurations. Each command builder creates a command and wires it to its
// handler in handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Chat Command
// =============================================================================

// buildChatCmd creates the "chat" command, the primary way to talk to the
// assistant. Without -m it starts an interactive REPL on stdin.
func buildChatCmd() *cobra.Command {
	var (
		configPath string
		message    string
		debug      bool
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant",
		Long: `Start an interactive chat session, or answer one message with -m.

Each message runs through the full turn pipeline:
1. Memory context is pre-fetched while the router classifies the intent
2. Deterministic questions (unit conversions, arithmetic, time, dates)
   are answered without any LLM call
3. Lookup questions run the search pipeline; action requests run the
   bounded tool loop over the configured tool servers
4. Permission prompts for "ask"-mode tool groups appear inline

REPL commands: /reset clears the session, /quit exits.`,
		Example: `  # Interactive session with default config
  sidekick chat

  # One-shot question
  sidekick chat -m "350F in C"

  # Reload the pipeline when the config file changes
  sidekick chat --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runChat(cmd.Context(), cmd.OutOrStdout(), configPath, message, debug, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&message, "message", "m", "",
		"Answer a single message and exit")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging and per-turn tool call details")
	cmd.Flags().BoolVar(&watch, "watch", false,
		"Rebuild the pipeline when the config file changes")

	return cmd
}

// =============================================================================
// Audit Commands
// =============================================================================

// buildAuditCmd creates the "audit" command group.
func buildAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	cmd.AddCommand(buildAuditTailCmd(), buildAuditPathCmd())
	return cmd
}

func buildAuditTailCmd() *cobra.Command {
	var (
		configPath string
		count      int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent audit events",
		Long: `Show the most recent events from the append-only JSONL audit log.

Corrupt trailing lines (for example from a crash mid-write) are skipped.`,
		Example: `  # Last 20 events
  sidekick audit tail

  # Last 100 events as raw JSON
  sidekick audit tail -n 100 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runAuditTail(cmd.OutOrStdout(), configPath, count, asJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to configuration file (YAML or JSON5)")
	cmd.Flags().IntVarP(&count, "lines", "n", 20,
		"Number of events to show")
	cmd.Flags().BoolVar(&asJSON, "json", false,
		"Print events as JSON lines")

	return cmd
}

func buildAuditPathCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the audit log location",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runAuditPath(cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to configuration file (YAML or JSON5)")

	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and inspect configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigSchemaCmd(), buildConfigPathCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Load the configuration file, resolve $include directives and
environment references, apply defaults, and run all validation checks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runConfigValidate(cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to configuration file (YAML or JSON5)")

	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd.OutOrStdout())
		},
	}
}

func buildConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the effective config file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigPath(cmd.OutOrStdout())
		},
	}
}

// =============================================================================
// Tools Command
// =============================================================================

// buildToolsCmd creates the "tools" command group.
func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect configured tool servers",
	}
	cmd.AddCommand(buildToolsListCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tools exposed by the configured tool servers",
		Long: `Connect to every configured tool server and list the tools they
expose, with the permission group each tool resolves to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runToolsList(cmd.Context(), cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to configuration file (YAML or JSON5)")

	return cmd
}
