package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/cost"
)

type estimateOptions struct {
	configPath   string
	model        string
	text         string
	outputTokens int
	json         bool
}

type estimateReport struct {
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	CeilingUSD   float64 `json:"ceiling_usd"`
	Rejected     bool    `json:"rejected"`
}

// runEstimate prints what the orchestrator would decide for a prompt.
func runEstimate(in io.Reader, out io.Writer, opts estimateOptions) error {
	cfg := config.Default()
	if strings.TrimSpace(opts.configPath) != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	text := opts.text
	if text == "" {
		data, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("prompt is empty; pass --text or pipe it on stdin")
	}

	model := opts.model
	if model == "" {
		model = cfg.LLM.DefaultModel
	}
	outputTokens := opts.outputTokens
	if outputTokens <= 0 {
		outputTokens = cfg.LLM.MaxOutputTokens
	}

	prices, err := buildPriceTable(cfg)
	if err != nil {
		return err
	}
	estimate, err := cost.NewEstimator(prices, outputTokens).Estimate(text, model)
	if err != nil {
		return fmt.Errorf("%w (known models: %s)", err, strings.Join(prices.Models(), ", "))
	}

	report := estimateReport{
		Model:        model,
		InputTokens:  estimate.InputTokens,
		OutputTokens: estimate.OutputTokens,
		CostUSD:      estimate.Cost,
		CeilingUSD:   cfg.Cost.CeilingUSD,
		Rejected:     estimate.Exceeds(cfg.Cost.CeilingUSD),
	}
	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	verdict := "allowed"
	if report.Rejected {
		verdict = "rejected"
	}
	fmt.Fprintf(out, "model:          %s\n", report.Model)
	fmt.Fprintf(out, "input tokens:   %d\n", report.InputTokens)
	fmt.Fprintf(out, "output tokens:  %d\n", report.OutputTokens)
	fmt.Fprintf(out, "estimated cost: %s\n", cost.FormatUSD(report.CostUSD))
	fmt.Fprintf(out, "ceiling:        %s (%s)\n", cost.FormatUSD(report.CeilingUSD), verdict)
	return nil
}

// runConfigValidate checks the file against the schema, then relay's rules.
func runConfigValidate(out io.Writer, configPath string, secrets bool) error {
	raw, err := config.LoadRaw(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := config.ValidateSchema(raw); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if secrets {
		if err := cfg.RequireSecrets(); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "%s: ok (model %s, ceiling %s, dedupe %s, storage %s)\n",
		configPath,
		cfg.LLM.DefaultModel,
		cost.FormatUSD(cfg.Cost.CeilingUSD),
		cfg.Dedupe.Backend,
		cfg.Storage.Driver,
	)
	return nil
}

func runConfigSchema(out io.Writer) error {
	data, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// runSubmissionsList prints stored submissions for one user.
func runSubmissionsList(ctx context.Context, out io.Writer, configPath, user string, limit int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Storage.Driver == config.BackendMemory {
		return fmt.Errorf("storage.driver is memory; submissions are not kept between runs")
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListByUser(ctx, user, limit)
	if err != nil {
		return fmt.Errorf("list submissions: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintf(out, "no submissions for %s\n", user)
		return nil
	}
	for _, rec := range records {
		fmt.Fprintf(out, "%s  %s  %s  %q\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.ID,
			rec.CallbackID,
			rec.Values["title"],
		)
	}
	return nil
}
