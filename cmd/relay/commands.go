package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// defaultConfigPath returns RELAY_CONFIG or relay.yaml.
func defaultConfigPath() string {
	if path := strings.TrimSpace(os.Getenv("RELAY_CONFIG")); path != "" {
		return path
	}
	return "relay.yaml"
}

// =============================================================================
// Serve Command
// =============================================================================

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to Slack and answer events",
		Long: `Connect to Slack over Socket Mode and handle events until interrupted.

The server will:
1. Load and validate configuration
2. Open the dedupe cache and submission store
3. Initialize model providers for the configured models
4. Serve Prometheus metrics when server.metrics_addr is set
5. Acknowledge and answer Slack events

On SIGINT/SIGTERM in-flight responses are cancelled and drained.`,
		Example: `  # Start with default config
  relay serve

  # Start with debug logging
  relay serve --config /etc/relay/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// =============================================================================
// Estimate Command
// =============================================================================

func buildEstimateCmd() *cobra.Command {
	var opts estimateOptions

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the cost of a prompt",
		Long: `Estimate token counts and cost for a prompt using the configured price table.

The prompt is read from --text, or from stdin when --text is omitted.
Token counts use a fixed four characters per token approximation.`,
		Example: `  relay estimate --model gpt-4o --text "hello"
  cat question.txt | relay estimate --model claude-sonnet-4-5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEstimate(cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file for pricing (default pricing when empty)")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Model id (default: llm.default_model)")
	cmd.Flags().StringVarP(&opts.text, "text", "t", "", "Prompt text")
	cmd.Flags().IntVar(&opts.outputTokens, "output-tokens", 0, "Expected output tokens (default: llm.max_output_tokens)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the estimate as JSON")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect relay configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigSchemaCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var (
		configPath string
		secrets    bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Check a configuration file against the schema and relay's own rules.

With --secrets the Slack tokens and the default model's API key must also be
present, as they are for relay serve.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd.OutOrStdout(), configPath, secrets)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVar(&secrets, "secrets", false, "Also require credentials")
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

// =============================================================================
// Submissions Commands
// =============================================================================

func buildSubmissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submissions",
		Short: "Inspect stored modal submissions",
	}
	cmd.AddCommand(buildSubmissionsListCmd())
	return cmd
}

func buildSubmissionsListCmd() *cobra.Command {
	var (
		configPath string
		user       string
		limit      int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List a user's submissions, newest first",
		Example: `  relay submissions list --user U012ABCDEF --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmissionsList(cmd.Context(), cmd.OutOrStdout(), configPath, user, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&user, "user", "", "Slack user id (required)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum submissions to print")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// =============================================================================
// Version Command
// =============================================================================

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("relay %s\n", version)
			cmd.Printf("  commit: %s\n", commit)
			cmd.Printf("  built:  %s\n", date)
		},
	}
}
