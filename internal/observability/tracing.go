package observability

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/relay/internal/correlation"
)

// Span names used by the relay.
const (
	SpanHandleEvent = "handle_event"
	SpanRespond     = "respond"
	SpanModalSubmit = "modal_submit"
)

// Tracer starts spans that carry the event's correlation identifiers.
//
// Without an endpoint the tracer uses the global provider, which is a no-op
// unless something else installed one, so callers never check configuration.
//
//	tracer, shutdown, err := observability.NewTracer(ctx, observability.TraceConfig{
//	    Endpoint: "localhost:4317",
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, observability.SpanRespond)
//	defer span.End()
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TraceConfig
}

// TraceConfig selects the OTLP export target and resource attributes.
type TraceConfig struct {
	ServiceName    string // default "relay"
	ServiceVersion string
	Environment    string

	// Endpoint is the OTLP/gRPC collector address. Empty disables export.
	Endpoint string

	// SamplingRate is the recorded fraction of traces. Zero means 1.0.
	SamplingRate float64

	Attributes map[string]string

	// EnableInsecure dials the collector without TLS.
	EnableInsecure bool
}

// SpanOptions configures span creation behavior.
type SpanOptions struct {
	Kind       trace.SpanKind
	Attributes []attribute.KeyValue
}

// NewTracer builds a tracer and the shutdown function that flushes it.
// When the exporter cannot be created the error is returned alongside a
// usable no-export tracer, so callers may log and continue.
func NewTracer(ctx context.Context, config TraceConfig) (*Tracer, func(context.Context) error, error) {
	if config.ServiceName == "" {
		config.ServiceName = "relay"
	}
	noop := func(context.Context) error { return nil }
	fallback := &Tracer{tracer: otel.Tracer(config.ServiceName), config: config}

	if config.Endpoint == "" {
		return fallback, noop, nil
	}
	if config.SamplingRate == 0 {
		config.SamplingRate = 1.0
	}

	clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.EnableInsecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(clientOpts...))
	if err != nil {
		return fallback, noop, fmt.Errorf("create otlp exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(buildResource(ctx, config)),
		sdktrace.WithSampler(samplerFor(config.SamplingRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
		config:   config,
	}, provider.Shutdown, nil
}

func buildResource(ctx context.Context, config TraceConfig) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	for _, k := range sortedAttrKeys(config.Attributes) {
		attrs = append(attrs, attribute.String(k, config.Attributes[k]))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return resource.Default()
	}
	return res
}

func sortedAttrKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}

// samplerFor respects a parent's sampling decision and ratio-samples roots.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// NopTracer returns a tracer on the global provider.
func NopTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer("relay"), config: TraceConfig{ServiceName: "relay"}}
}

// Start opens a span. The correlation id and event kind from ctx, when
// present, are attached so traces join with log lines.
func (t *Tracer) Start(ctx context.Context, name string, opts ...SpanOptions) (context.Context, trace.Span) {
	var options []trace.SpanStartOption
	for _, opt := range opts {
		if opt.Kind != 0 {
			options = append(options, trace.WithSpanKind(opt.Kind))
		}
		if len(opt.Attributes) > 0 {
			options = append(options, trace.WithAttributes(opt.Attributes...))
		}
	}
	if cc, ok := correlation.FromContext(ctx); ok {
		options = append(options, trace.WithAttributes(
			attribute.String("relay.correlation_id", cc.ID()),
			attribute.String("relay.event_kind", string(cc.EventKind())),
		))
	}
	return t.tracer.Start(ctx, name, options...)
}

// RecordError marks the span failed. A nil error is ignored.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets alternating key/value pairs on span. Pairs whose key
// is not a string are skipped.
//
//	tracer.SetAttributes(span, "model", model, "attempts", 2)
func (t *Tracer) SetAttributes(span trace.Span, keyvals ...any) {
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, attributeFromValue(key, keyvals[i+1]))
	}
	span.SetAttributes(attrs...)
}

// TraceModelRequest opens a client span around one provider call.
func (t *Tracer) TraceModelRequest(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return t.Start(ctx, "model."+provider, SpanOptions{
		Kind: trace.SpanKindClient,
		Attributes: []attribute.KeyValue{
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		},
	})
}

// GetTraceID returns the active trace id in ctx, or "".
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

func attributeFromValue(key string, val any) attribute.KeyValue {
	switch v := val.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
