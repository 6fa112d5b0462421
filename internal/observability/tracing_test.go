package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/haasonsaas/relay/internal/correlation"
	"github.com/haasonsaas/relay/pkg/models"
)

func recordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return &Tracer{provider: provider, tracer: provider.Tracer("test")}, recorder
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestNewTracer(t *testing.T) {
	tests := []struct {
		name   string
		config TraceConfig
	}{
		{name: "without endpoint", config: TraceConfig{ServiceName: "relay-test"}},
		{name: "with endpoint", config: TraceConfig{ServiceName: "relay-test", Endpoint: "localhost:4317", EnableInsecure: true, SamplingRate: 0.5}},
		{name: "defaults", config: TraceConfig{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, shutdown, err := NewTracer(context.Background(), tt.config)
			if err != nil {
				t.Fatalf("NewTracer() error = %v", err)
			}
			if tracer == nil || tracer.tracer == nil {
				t.Fatal("NewTracer() returned an unusable tracer")
			}
			if tracer.config.ServiceName == "" {
				t.Error("service name should default")
			}
			_, span := tracer.Start(context.Background(), "op")
			span.End()
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_ = shutdown(ctx)
		})
	}
}

func TestStartAttachesCorrelation(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	cc := correlation.Create(models.Event{ID: "Ev1", Kind: models.EventMention, Channel: "C1", MessageTS: "1.000001"})
	ctx := correlation.WithContext(context.Background(), cc)

	_, span := tracer.Start(ctx, SpanRespond)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != SpanRespond {
		t.Errorf("name = %s", spans[0].Name())
	}
	v, ok := attrValue(spans[0].Attributes(), "relay.correlation_id")
	if !ok || v.AsString() != cc.ID() {
		t.Errorf("correlation attribute = %v, %v", v.AsString(), ok)
	}
	v, ok = attrValue(spans[0].Attributes(), "relay.event_kind")
	if !ok || v.AsString() != "mention" {
		t.Errorf("event kind attribute = %v", v.AsString())
	}
}

func TestRecordError(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	_, span := tracer.Start(context.Background(), "failing")
	tracer.RecordError(span, errors.New("boom"))
	tracer.RecordError(span, nil)
	span.End()

	got := recorder.Ended()[0]
	if got.Status().Code != codes.Error || got.Status().Description != "boom" {
		t.Errorf("status = %+v", got.Status())
	}
	if len(got.Events()) != 1 {
		t.Errorf("events = %d, want 1 exception event", len(got.Events()))
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{rate: 1, want: "ParentBased{root:AlwaysOnSampler"},
		{rate: 0, want: "AlwaysOffSampler"},
		{rate: 0.25, want: "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		if got := samplerFor(tt.rate).Description(); !strings.Contains(got, tt.want) {
			t.Errorf("samplerFor(%v) = %q, want it to contain %q", tt.rate, got, tt.want)
		}
	}
}

func TestSetAttributes(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	_, span := tracer.Start(context.Background(), "attrs")
	tracer.SetAttributes(span,
		"model", "claude-sonnet-4",
		"retry_attempt", 3,
		"cost", 0.01,
		42, "ignored",
		"dangling",
	)
	span.End()

	attrs := recorder.Ended()[0].Attributes()
	if v, _ := attrValue(attrs, "model"); v.AsString() != "claude-sonnet-4" {
		t.Errorf("model = %v", v.AsString())
	}
	if v, _ := attrValue(attrs, "retry_attempt"); v.AsInt64() != 3 {
		t.Errorf("retry_attempt = %v", v.AsInt64())
	}
	if _, ok := attrValue(attrs, "dangling"); ok {
		t.Error("odd trailing key should be skipped")
	}
}

func TestTraceModelRequest(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	_, span := tracer.TraceModelRequest(context.Background(), "anthropic", "claude-sonnet-4")
	span.End()

	got := recorder.Ended()[0]
	if got.Name() != "model.anthropic" {
		t.Errorf("name = %s", got.Name())
	}
	if v, _ := attrValue(got.Attributes(), "llm.model"); v.AsString() != "claude-sonnet-4" {
		t.Errorf("llm.model = %v", v.AsString())
	}
}

func TestGetTraceID(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("GetTraceID(empty) = %q", id)
	}

	tracer, _ := recordingTracer(t)
	ctx, span := tracer.Start(context.Background(), "op")
	defer span.End()
	if id := GetTraceID(ctx); len(id) != 32 {
		t.Errorf("GetTraceID() = %q, want 32 hex chars", id)
	}
}

func TestAttributeFromValue(t *testing.T) {
	tests := []struct {
		val  any
		want attribute.Type
	}{
		{"s", attribute.STRING},
		{1, attribute.INT64},
		{int64(1), attribute.INT64},
		{1.5, attribute.FLOAT64},
		{true, attribute.BOOL},
		{[]string{"a"}, attribute.STRINGSLICE},
		{struct{}{}, attribute.STRING},
	}
	for _, tt := range tests {
		if got := attributeFromValue("k", tt.val).Value.Type(); got != tt.want {
			t.Errorf("attributeFromValue(%T) type = %v, want %v", tt.val, got, tt.want)
		}
	}
}
