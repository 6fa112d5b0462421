package config

import (
	"fmt"
	"sort"
	"strings"
)

// CurrentVersion is the configuration format this build reads. Files that
// omit version are treated as current.
const CurrentVersion = 1

// VersionError reports a file written for a different configuration format.
type VersionError struct {
	Version int
	Current int
}

func (e *VersionError) Error() string {
	if e.Version > e.Current {
		return fmt.Sprintf("config version %d is newer than this build (current %d); upgrade relay", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is not supported (current %d)", e.Version, e.Current)
}

// ValidateVersion reports whether version can be read by this build.
func ValidateVersion(version int) error {
	if version != CurrentVersion {
		return &VersionError{Version: version, Current: CurrentVersion}
	}
	return nil
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid config"
	}
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "text": true}
	validProviders  = map[string]bool{ProviderAnthropic: true, ProviderOpenAI: true, ProviderGoogle: true}
	validDedupe     = map[string]bool{BackendMemory: true, BackendRedis: true}
	validStorage    = map[string]bool{BackendMemory: true, BackendSQLite: true, BackendPostgres: true}
)

// Validate checks structural invariants. Secrets are checked separately by
// RequireSecrets so tooling commands work without credentials.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		add("version: %v", err)
	}

	if c.Slack.AckDeadline <= 0 {
		add("slack.ack_deadline must be positive")
	}
	if !strings.HasPrefix(c.Slack.AskCommand, "/") {
		add("slack.ask_command must start with '/', got %q", c.Slack.AskCommand)
	}
	if c.Slack.RateLimit < 0 {
		add("slack.rate_limit must not be negative")
	}
	if c.Slack.RateBurst < 0 {
		add("slack.rate_burst must not be negative")
	}

	if strings.TrimSpace(c.LLM.DefaultModel) == "" {
		add("llm.default_model is required")
	} else if _, ok := c.Pricing[c.LLM.DefaultModel]; !ok {
		add("llm.default_model %q has no pricing entry", c.LLM.DefaultModel)
	}
	if c.LLM.MaxOutputTokens < 0 {
		add("llm.max_output_tokens must not be negative")
	}
	for _, name := range sortedKeys(c.LLM.Providers) {
		if !validProviders[name] {
			add("llm.providers.%s is not a supported provider", name)
		}
	}

	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialDelay < 0 {
		add("retry.initial_delay must not be negative")
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		add("retry.max_delay %v is below retry.initial_delay %v", c.Retry.MaxDelay, c.Retry.InitialDelay)
	}

	if c.Cost.CeilingUSD < 0 {
		add("cost.ceiling_usd must not be negative")
	}
	for _, model := range sortedKeys(c.Pricing) {
		price := c.Pricing[model]
		if price.InputPerMillion < 0 || price.OutputPerMillion < 0 {
			add("pricing.%s must not be negative", model)
		}
	}

	if c.Modal.TitleMinLength < 0 {
		add("modal.title_min_length must not be negative")
	}
	if c.Modal.BodyMaxLength <= 0 {
		add("modal.body_max_length must be positive")
	}

	if !validDedupe[c.Dedupe.Backend] {
		add("dedupe.backend must be memory or redis, got %q", c.Dedupe.Backend)
	}
	if c.Dedupe.Backend == BackendRedis && strings.TrimSpace(c.Dedupe.Redis.Addr) == "" {
		add("dedupe.redis.addr is required for the redis backend")
	}
	if c.Dedupe.TTL <= 0 {
		add("dedupe.ttl must be positive")
	}

	if !validStorage[c.Storage.Driver] {
		add("storage.driver must be memory, sqlite or postgres, got %q", c.Storage.Driver)
	}
	if c.Storage.Driver != BackendMemory && strings.TrimSpace(c.Storage.DSN) == "" {
		add("storage.dsn is required for the %s driver", c.Storage.Driver)
	}

	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		add("logging.format must be json or text, got %q", c.Logging.Format)
	}

	tracing := c.Observability.Tracing
	if tracing.Enabled && strings.TrimSpace(tracing.Endpoint) == "" {
		add("observability.tracing.endpoint is required when tracing is enabled")
	}
	if tracing.SamplingRate < 0 || tracing.SamplingRate > 1 {
		add("observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// RequireSecrets checks the credentials needed to serve traffic: both Slack
// tokens and an API key for the provider of the default model.
func (c *Config) RequireSecrets() error {
	var issues []string
	if !strings.HasPrefix(c.Slack.BotToken, "xoxb-") {
		issues = append(issues, "slack.bot_token must be set to an xoxb- token (or SLACK_BOT_TOKEN)")
	}
	if !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		issues = append(issues, "slack.app_token must be set to an xapp- token (or SLACK_APP_TOKEN)")
	}
	provider := ProviderFor(c.LLM.DefaultModel, c.LLM.Providers)
	if provider == "" {
		issues = append(issues, fmt.Sprintf("llm.default_model %q does not match any provider", c.LLM.DefaultModel))
	} else if strings.TrimSpace(c.LLM.Providers[provider].APIKey) == "" {
		issues = append(issues, fmt.Sprintf("llm.providers.%s.api_key is required (or %s)", provider, providerEnv[provider]))
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// DefaultModelPrefixes are the model id prefixes each provider serves when
// llm.providers.<name>.models is empty.
var DefaultModelPrefixes = map[string][]string{
	ProviderAnthropic: {"claude-"},
	ProviderOpenAI:    {"gpt-", "o1", "o3", "o4"},
	ProviderGoogle:    {"gemini-"},
}

// ModelPrefixes returns the prefixes routed to provider.
func ModelPrefixes(provider string, cfg LLMProviderConfig) []string {
	if len(cfg.Models) > 0 {
		return cfg.Models
	}
	return DefaultModelPrefixes[provider]
}

// ProviderFor returns the provider whose prefixes match model, preferring the
// longest prefix. It returns "" when nothing matches.
func ProviderFor(model string, providers map[string]LLMProviderConfig) string {
	best, bestLen := "", -1
	for _, name := range []string{ProviderAnthropic, ProviderOpenAI, ProviderGoogle} {
		for _, prefix := range ModelPrefixes(name, providers[name]) {
			if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
				best, bestLen = name, len(prefix)
			}
		}
	}
	return best
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
