// Package config loads the relay configuration file.
//
// Files are YAML, or JSON5 when the extension is .json or .json5. Environment
// variables are expanded before parsing and $include directives are merged in
// order, with the including file winning. Unknown fields are rejected.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the full relay configuration.
type Config struct {
	Version       int                    `yaml:"version"`
	Server        ServerConfig           `yaml:"server"`
	Slack         SlackConfig            `yaml:"slack"`
	LLM           LLMConfig              `yaml:"llm"`
	Retry         RetryConfig            `yaml:"retry"`
	Cost          CostConfig             `yaml:"cost"`
	Pricing       map[string]PriceConfig `yaml:"pricing"`
	Modal         ModalConfig            `yaml:"modal"`
	Dedupe        DedupeConfig           `yaml:"dedupe"`
	Storage       StorageConfig          `yaml:"storage"`
	Logging       LoggingConfig          `yaml:"logging"`
	Observability ObservabilityConfig    `yaml:"observability"`
}

type ServerConfig struct {
	// MetricsAddr is where /metrics is served. Empty disables the listener.
	MetricsAddr     string        `yaml:"metrics_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
	Debug    bool   `yaml:"debug"`

	// AckDeadline is how long an event may wait for its acknowledgment.
	AckDeadline time.Duration `yaml:"ack_deadline"`

	AskCommand   string `yaml:"ask_command"`
	NoteShortcut string `yaml:"note_shortcut"`
	ThinkingText string `yaml:"thinking_text"`

	// RateLimit throttles outbound messages per second. Zero means unlimited.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type LLMConfig struct {
	DefaultModel    string                       `yaml:"default_model"`
	MaxOutputTokens int                          `yaml:"max_output_tokens"`
	SystemPrompt    string                       `yaml:"system_prompt"`
	RequestTimeout  time.Duration                `yaml:"request_timeout"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Models lists model id prefixes routed to this provider. Empty uses
	// the provider's built-in prefixes.
	Models []string `yaml:"models"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

type CostConfig struct {
	// CeilingUSD is the largest estimated cost allowed for one model call.
	CeilingUSD float64 `yaml:"ceiling_usd"`
}

// PriceConfig is a model's price in USD per million tokens.
type PriceConfig struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

type ModalConfig struct {
	TitleMinLength int `yaml:"title_min_length"`
	BodyMaxLength  int `yaml:"body_max_length"`
}

type DedupeConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	MaxSize int           `yaml:"max_size"`

	// Timeout bounds one check on the ack path.
	Timeout time.Duration `yaml:"timeout"`

	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	Prefix      string        `yaml:"prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	IOTimeout   time.Duration `yaml:"io_timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

type StorageConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// Provider names accepted under llm.providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

// Backends accepted under dedupe.backend and storage.driver.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Load reads, merges, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Slack.AckDeadline == 0 {
		cfg.Slack.AckDeadline = 3 * time.Second
	}
	if cfg.Slack.AskCommand == "" {
		cfg.Slack.AskCommand = "/ask"
	}
	if cfg.Slack.NoteShortcut == "" {
		cfg.Slack.NoteShortcut = "new_note"
	}
	if cfg.Slack.RateLimit > 0 && cfg.Slack.RateBurst == 0 {
		cfg.Slack.RateBurst = 1
	}

	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "claude-sonnet-4-5"
	}
	if cfg.LLM.MaxOutputTokens == 0 {
		cfg.LLM.MaxOutputTokens = 1024
	}
	if cfg.LLM.RequestTimeout == 0 {
		cfg.LLM.RequestTimeout = 60 * time.Second
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}

	if cfg.Cost.CeilingUSD == 0 {
		cfg.Cost.CeilingUSD = 0.10
	}
	if len(cfg.Pricing) == 0 {
		cfg.Pricing = defaultPricing()
	}

	if cfg.Modal.TitleMinLength == 0 {
		cfg.Modal.TitleMinLength = 5
	}
	if cfg.Modal.BodyMaxLength == 0 {
		cfg.Modal.BodyMaxLength = 3000
	}

	if cfg.Dedupe.Backend == "" {
		cfg.Dedupe.Backend = BackendMemory
	}
	if cfg.Dedupe.TTL == 0 {
		cfg.Dedupe.TTL = 10 * time.Minute
	}
	if cfg.Dedupe.Timeout == 0 {
		cfg.Dedupe.Timeout = 250 * time.Millisecond
	}
	if cfg.Dedupe.MaxSize == 0 {
		cfg.Dedupe.MaxSize = 10000
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = BackendMemory
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = 25
	}
	if cfg.Storage.MaxIdleConns == 0 {
		cfg.Storage.MaxIdleConns = 5
	}
	if cfg.Storage.ConnMaxLifetime == 0 {
		cfg.Storage.ConnMaxLifetime = 5 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	tracing := &cfg.Observability.Tracing
	if tracing.ServiceName == "" {
		tracing.ServiceName = "relay"
	}
	if tracing.SamplingRate == 0 {
		tracing.SamplingRate = 1.0
	}
}

// defaultPricing lists USD per million tokens for the models relay ships
// with. Files that set pricing replace the table entirely.
func defaultPricing() map[string]PriceConfig {
	return map[string]PriceConfig{
		"claude-sonnet-4-5": {InputPerMillion: 3, OutputPerMillion: 15},
		"claude-haiku-4-5":  {InputPerMillion: 1, OutputPerMillion: 5},
		"claude-opus-4-1":   {InputPerMillion: 15, OutputPerMillion: 75},
		"gpt-4o":            {InputPerMillion: 2.5, OutputPerMillion: 10},
		"gpt-4o-mini":       {InputPerMillion: 0.15, OutputPerMillion: 0.6},
		"gemini-2.5-pro":    {InputPerMillion: 1.25, OutputPerMillion: 10},
		"gemini-2.5-flash":  {InputPerMillion: 0.3, OutputPerMillion: 2.5},
	}
}

// secretEnv maps environment variables onto Slack secrets. File values win.
var secretEnv = map[string]func(*Config) *string{
	"SLACK_BOT_TOKEN": func(c *Config) *string { return &c.Slack.BotToken },
	"SLACK_APP_TOKEN": func(c *Config) *string { return &c.Slack.AppToken },
}

// providerEnv names the API key variable read for each provider.
var providerEnv = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderGoogle:    "GOOGLE_API_KEY",
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	for name, field := range secretEnv {
		if value := strings.TrimSpace(getenv(name)); value != "" && *field(cfg) == "" {
			*field(cfg) = value
		}
	}
	for provider, name := range providerEnv {
		value := strings.TrimSpace(getenv(name))
		if value == "" {
			continue
		}
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = map[string]LLMProviderConfig{}
		}
		p := cfg.LLM.Providers[provider]
		if p.APIKey == "" {
			p.APIKey = value
			cfg.LLM.Providers[provider] = p
		}
	}
}
