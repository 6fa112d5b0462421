package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/relay/internal/backoff"
	slackchan "github.com/haasonsaas/relay/internal/channels/slack"
	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/cost"
	"github.com/haasonsaas/relay/internal/dedupe"
	"github.com/haasonsaas/relay/internal/gateway"
	"github.com/haasonsaas/relay/internal/modal"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/orchestrator"
	"github.com/haasonsaas/relay/internal/providers"
	"github.com/haasonsaas/relay/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

// app holds the long-lived components built from a config.
type app struct {
	adapter *slackchan.Adapter
	gateway *gateway.Gateway
	logger  *observability.Logger

	// closers run in reverse order on shutdown.
	closers []func(context.Context) error
}

// buildApp wires every component for serve. On error, anything already
// opened is closed.
func buildApp(ctx context.Context, cfg *config.Config, logger *observability.Logger, reg prometheus.Registerer) (a *app, err error) {
	a = &app{logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	metrics := observability.NewMetrics(reg)
	tracing := cfg.Observability.Tracing
	traceCfg := observability.TraceConfig{
		ServiceName:    tracing.ServiceName,
		ServiceVersion: firstNonEmpty(tracing.ServiceVersion, version),
		Environment:    tracing.Environment,
		SamplingRate:   tracing.SamplingRate,
		Attributes:     tracing.Attributes,
		EnableInsecure: tracing.Insecure,
	}
	if tracing.Enabled {
		traceCfg.Endpoint = tracing.Endpoint
	}
	tracer, shutdownTracer, err := observability.NewTracer(ctx, traceCfg)
	if err != nil {
		logger.Warn(ctx, "tracing disabled", "error", err)
	}
	a.closers = append(a.closers, shutdownTracer)

	prices, err := buildPriceTable(cfg)
	if err != nil {
		return nil, err
	}
	router, err := buildRouter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	dedupeStore, err := a.buildDedupe(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	adapter, err := slackchan.NewAdapter(slackchan.Config{
		BotToken: cfg.Slack.BotToken,
		AppToken: cfg.Slack.AppToken,
		Debug:    cfg.Slack.Debug,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	a.adapter = adapter

	delivery := slackchan.NewDelivery(adapter.API(), slackchan.DeliveryConfig{
		RateLimit: cfg.Slack.RateLimit,
		RateBurst: cfg.Slack.RateBurst,
	})

	orch, err := orchestrator.New(orchestrator.Config{
		Model:           cfg.LLM.DefaultModel,
		Ceiling:         cfg.Cost.CeilingUSD,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Estimator:       cost.NewEstimator(prices, cfg.LLM.MaxOutputTokens),
		Client:          router,
		Delivery:        delivery,
		Prompts:         orchestrator.TextPromptBuilder{System: cfg.LLM.SystemPrompt},
		Retry: backoff.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Initial:     cfg.Retry.InitialDelay,
			Max:         cfg.Retry.MaxDelay,
		},
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		return nil, err
	}

	noteForm := modal.NoteForm(cfg.Modal.TitleMinLength, cfg.Modal.BodyMaxLength)
	gw, err := gateway.New(gateway.Config{
		Responder:    orch,
		Views:        adapter,
		Delivery:     delivery,
		Store:        store,
		Dedupe:       dedupeStore,
		AckDeadline:   cfg.Slack.AckDeadline,
		DedupeTimeout: cfg.Dedupe.Timeout,
		AskCommand:    cfg.Slack.AskCommand,
		NoteShortcut:  cfg.Slack.NoteShortcut,
		ThinkingText:  cfg.Slack.ThinkingText,
		NoteForm:      &noteForm,
		Logger:        logger,
		Metrics:       metrics,
		Tracer:        tracer,
	})
	if err != nil {
		return nil, err
	}
	a.gateway = gw
	return a, nil
}

// Close releases everything buildApp opened.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func buildPriceTable(cfg *config.Config) (*cost.PriceTable, error) {
	prices := make(map[string]cost.Price, len(cfg.Pricing))
	for model, p := range cfg.Pricing {
		prices[model] = cost.Price{Input: p.InputPerMillion, Output: p.OutputPerMillion}
	}
	table, err := cost.NewPriceTable(prices)
	if err != nil {
		return nil, fmt.Errorf("pricing: %w", err)
	}
	return table, nil
}

// buildRouter creates a provider for every configured API key and routes its
// model prefixes to it.
func buildRouter(ctx context.Context, cfg *config.Config) (*providers.Router, error) {
	router := providers.NewRouter(nil)
	for _, name := range []string{config.ProviderAnthropic, config.ProviderOpenAI, config.ProviderGoogle} {
		pcfg, ok := cfg.LLM.Providers[name]
		if !ok || strings.TrimSpace(pcfg.APIKey) == "" {
			continue
		}
		p, err := newProvider(ctx, name, pcfg, cfg.LLM.RequestTimeout)
		if err != nil {
			return nil, err
		}
		for _, prefix := range config.ModelPrefixes(name, pcfg) {
			router.Route(prefix, p)
		}
	}
	if _, ok := router.Lookup(cfg.LLM.DefaultModel); !ok {
		return nil, fmt.Errorf("no provider with an API key serves model %q", cfg.LLM.DefaultModel)
	}
	return router, nil
}

func newProvider(ctx context.Context, name string, pcfg config.LLMProviderConfig, timeout time.Duration) (providers.Provider, error) {
	switch name {
	case config.ProviderAnthropic:
		return providers.NewAnthropic(providers.AnthropicConfig{
			APIKey:  pcfg.APIKey,
			BaseURL: pcfg.BaseURL,
			Timeout: timeout,
		})
	case config.ProviderOpenAI:
		return providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:     pcfg.APIKey,
			BaseURL:    pcfg.BaseURL,
			HTTPClient: &http.Client{Timeout: timeout},
		})
	case config.ProviderGoogle:
		return providers.NewGoogle(ctx, providers.GoogleConfig{
			APIKey:  pcfg.APIKey,
			BaseURL: pcfg.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unsupported provider %q", name)
	}
}

func (a *app) buildDedupe(ctx context.Context, cfg *config.Config) (dedupe.Store, error) {
	switch cfg.Dedupe.Backend {
	case config.BackendRedis:
		r := dedupe.NewRedis(dedupe.RedisConfig{
			Addr:     cfg.Dedupe.Redis.Addr,
			Password: cfg.Dedupe.Redis.Password,
			DB:       cfg.Dedupe.Redis.DB,
			Prefix:      cfg.Dedupe.Redis.Prefix,
			TTL:         cfg.Dedupe.TTL,
			DialTimeout: cfg.Dedupe.Redis.DialTimeout,
			IOTimeout:   cfg.Dedupe.Redis.IOTimeout,
			MaxRetries:  cfg.Dedupe.Redis.MaxRetries,
		})
		a.closers = append(a.closers, func(context.Context) error { return r.Close() })
		return r, nil
	default:
		m := dedupe.NewMemory(dedupe.MemoryConfig{
			TTL:     cfg.Dedupe.TTL,
			MaxSize: cfg.Dedupe.MaxSize,
		})
		cleanupCtx, stop := context.WithCancel(ctx)
		go m.Run(cleanupCtx, 0)
		a.closers = append(a.closers, func(context.Context) error { stop(); return nil })
		return m, nil
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (storage.SubmissionStore, error) {
	switch cfg.Storage.Driver {
	case config.BackendSQLite, config.BackendPostgres:
		sqlCfg := storage.DefaultSQLConfig()
		sqlCfg.MaxOpenConns = cfg.Storage.MaxOpenConns
		sqlCfg.MaxIdleConns = cfg.Storage.MaxIdleConns
		sqlCfg.ConnMaxLifetime = cfg.Storage.ConnMaxLifetime
		store, err := storage.OpenSQL(ctx, storage.Dialect(cfg.Storage.Driver), cfg.Storage.DSN, sqlCfg)
		if err != nil {
			return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
		}
		return store, nil
	default:
		return storage.NewMemoryStore(), nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
