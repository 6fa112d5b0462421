package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the relay's Prometheus metrics.
//
// The metrics track:
//   - Inbound events by kind and whether they were redeliveries
//   - Acknowledgment latency against the platform deadline
//   - Model call latency, token usage and estimated spend
//   - Retry attempts and cost ceiling rejections
//   - Modal submission outcomes
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.EventReceived("mention")
//	metrics.RecordAck("view_submission", 40*time.Millisecond, false)
type Metrics struct {
	// EventsReceived counts inbound events.
	// Labels: kind, result (accepted|duplicate|invalid)
	EventsReceived *prometheus.CounterVec

	// AckLatency measures time from receipt to acknowledgment in seconds.
	// Labels: kind
	// Buckets: 10ms, 50ms, 100ms, 250ms, 500ms, 1s, 2s, 3s, 5s
	AckLatency *prometheus.HistogramVec

	// AckDeadlineMissed counts acknowledgments sent after the deadline.
	// Labels: kind
	AckDeadlineMissed *prometheus.CounterVec

	// Responses counts orchestrated responses.
	// Labels: outcome (delivered|cost_rejected|failed|unknown_model)
	Responses *prometheus.CounterVec

	// ModelRequestDuration measures model call latency including retries.
	// Labels: provider, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s
	ModelRequestDuration *prometheus.HistogramVec

	// ModelTokens counts tokens reported by the model.
	// Labels: model, type (input|output)
	ModelTokens *prometheus.CounterVec

	// ModelCost accumulates estimated spend in USD.
	// Labels: model
	ModelCost *prometheus.CounterVec

	// Retries counts retry waits taken by the retry executor.
	// Labels: reason
	Retries *prometheus.CounterVec

	// CostRejections counts requests refused by the cost ceiling.
	// Labels: model
	CostRejections *prometheus.CounterVec

	// ModalSubmissions counts validated modal submissions.
	// Labels: callback_id, outcome (accepted|rejected|unknown_form)
	ModalSubmissions *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (gateway|orchestrator|modal|slack|storage), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates all relay metrics and registers them with reg.
// Passing nil uses the Prometheus default registry.
//
// Tests pass a fresh prometheus.NewRegistry() so repeated construction does
// not panic on duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		EventsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_events_total",
				Help: "Total number of inbound events by kind and result",
			},
			[]string{"kind", "result"},
		),

		AckLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_ack_latency_seconds",
				Help:    "Time from event receipt to acknowledgment in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
			},
			[]string{"kind"},
		),

		AckDeadlineMissed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_ack_deadline_missed_total",
				Help: "Total number of acknowledgments sent after the platform deadline",
			},
			[]string{"kind"},
		),

		Responses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_responses_total",
				Help: "Total number of orchestrated responses by outcome",
			},
			[]string{"outcome"},
		),

		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_model_request_duration_seconds",
				Help:    "Duration of model calls including retries in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),

		ModelTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_model_tokens_total",
				Help: "Total number of tokens used by model and type",
			},
			[]string{"model", "type"},
		),

		ModelCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_model_cost_usd_total",
				Help: "Accumulated estimated model spend in USD",
			},
			[]string{"model"},
		),

		Retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_retries_total",
				Help: "Total number of retry waits by failure reason",
			},
			[]string{"reason"},
		),

		CostRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_cost_rejections_total",
				Help: "Total number of requests refused by the cost ceiling",
			},
			[]string{"model"},
		),

		ModalSubmissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_modal_submissions_total",
				Help: "Total number of modal submissions by form and outcome",
			},
			[]string{"callback_id", "outcome"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// EventReceived records an accepted inbound event.
func (m *Metrics) EventReceived(kind string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(kind, "accepted").Inc()
}

// EventDuplicate records a redelivered event that was dropped.
func (m *Metrics) EventDuplicate(kind string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(kind, "duplicate").Inc()
}

// EventInvalid records an event that failed validation.
func (m *Metrics) EventInvalid(kind string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(kind, "invalid").Inc()
}

// RecordAck records acknowledgment latency and whether the deadline was missed.
func (m *Metrics) RecordAck(kind string, latencySeconds float64, missed bool) {
	if m == nil {
		return
	}
	m.AckLatency.WithLabelValues(kind).Observe(latencySeconds)
	if missed {
		m.AckDeadlineMissed.WithLabelValues(kind).Inc()
	}
}

// RecordResponse increments the response counter for an outcome.
func (m *Metrics) RecordResponse(outcome string) {
	if m == nil {
		return
	}
	m.Responses.WithLabelValues(outcome).Inc()
}

// RecordModelRequest records model call latency, token usage and spend.
func (m *Metrics) RecordModelRequest(provider, model string, durationSeconds float64, inputTokens, outputTokens int, costUSD float64) {
	if m == nil {
		return
	}
	m.ModelRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.ModelTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.ModelTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
	if costUSD > 0 {
		m.ModelCost.WithLabelValues(model).Add(costUSD)
	}
}

// RecordRetry increments the retry counter for a failure reason.
func (m *Metrics) RecordRetry(reason string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(reason).Inc()
}

// RecordCostRejection increments the cost rejection counter.
func (m *Metrics) RecordCostRejection(model string) {
	if m == nil {
		return
	}
	m.CostRejections.WithLabelValues(model).Inc()
}

// RecordModalSubmission increments the modal submission counter.
func (m *Metrics) RecordModalSubmission(callbackID, outcome string) {
	if m == nil {
		return
	}
	m.ModalSubmissions.WithLabelValues(callbackID, outcome).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
