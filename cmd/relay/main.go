// Package main provides the CLI entry point for relay, the Slack assistant
// event core.
//
// Relay receives Slack events over Socket Mode, acknowledges them within
// Slack's deadline, and answers mentions, direct messages and the /ask command
// with a language model behind a per-request cost ceiling. The note shortcut
// opens a modal whose submissions are validated and stored.
//
// # Basic Usage
//
// Start the bot:
//
//	relay serve --config relay.yaml
//
// Estimate what a prompt would cost:
//
//	relay estimate --model claude-sonnet-4-5 --text "Summarize this thread"
//
// Check a configuration file:
//
//	relay config validate --config relay.yaml
//
// # Environment Variables
//
//   - RELAY_CONFIG: Path to configuration file (default: relay.yaml)
//   - SLACK_BOT_TOKEN: Slack bot OAuth token
//   - SLACK_APP_TOKEN: Slack app-level token for Socket Mode
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY: model provider keys
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "relay - Slack assistant event core",
		Long: `relay connects a Slack workspace to a language model.

Events are acknowledged within Slack's three second window and answered
afterwards. Every model call is priced before it is made and refused when
the estimate exceeds the configured ceiling.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildEstimateCmd(),
		buildConfigCmd(),
		buildSubmissionsCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}
