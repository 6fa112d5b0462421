// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for the relay.
//
// # Logging
//
// Logger wraps log/slog. Any entry logged with a context produced by
// correlation.WithContext carries the event's correlation fields, and string
// values are passed through redaction patterns that mask Slack tokens,
// provider API keys and response URLs.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	ctx = correlation.WithContext(ctx, correlation.Create(ev))
//	logger.Info(ctx, "response delivered", "operation", observability.OpRespond)
//
// # Metrics
//
// Metrics are registered with the supplied prometheus.Registerer and served
// by the serve command on the configured metrics address.
//
// # Tracing
//
// Tracer exports spans over OTLP/gRPC when an endpoint is configured and
// falls back to the global no-op provider otherwise.
package observability
