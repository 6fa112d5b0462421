package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// runServe loads configuration, wires the components and runs the Slack
// adapter until the process is signalled.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.RequireSecrets(); err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	logger.Info(ctx, "starting relay",
		"version", version,
		"commit", commit,
		"config", configPath,
		"model", cfg.LLM.DefaultModel,
		"ceiling_usd", cfg.Cost.CeilingUSD,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	metricsServer, err := startMetricsServer(ctx, cfg.Server.MetricsAddr, logger)
	if err != nil {
		_ = a.Close(context.Background())
		return err
	}

	runErr := a.adapter.Run(ctx, a.gateway)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	logger.Info(context.Background(), "shutting down", "in_flight", a.gateway.Active())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, fmt.Errorf("slack adapter: %w", runErr))
	}
	if err := a.gateway.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain in-flight events: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if err := a.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		logger.Info(context.Background(), "relay stopped")
	}
	return errors.Join(errs...)
}

// startMetricsServer serves /metrics and /healthz on addr. An empty addr
// disables it and returns a nil server.
func startMetricsServer(ctx context.Context, addr string, logger *observability.Logger) (*http.Server, error) {
	if addr == "" {
		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "metrics server error", "error", err)
		}
	}()
	logger.Info(ctx, "serving metrics", "addr", listener.Addr().String())
	return server, nil
}
