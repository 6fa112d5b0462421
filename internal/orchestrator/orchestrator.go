// Package orchestrator produces the substantive reply for an event after it
// has been acknowledged.
//
// Each response passes a cost gate before any model call, invokes the model
// through the retry executor, delivers the text to the event's response handle
// and emits one structured log entry carrying the event's correlation fields.
// Users only ever see fixed notices on failure, never upstream error text.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/relay/internal/ack"
	"github.com/haasonsaas/relay/internal/backoff"
	"github.com/haasonsaas/relay/internal/correlation"
	"github.com/haasonsaas/relay/internal/cost"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/upstream"
	"github.com/haasonsaas/relay/pkg/models"
)

// Status is the terminal state of one response.
type Status string

const (
	StatusDelivered    Status = "delivered"
	StatusCostRejected Status = "cost_rejected"
	StatusUnknownModel Status = "unknown_model"
	StatusEmpty        Status = "empty_prompt"
	StatusFailed       Status = "failed"

	// StatusCanceled means shutdown interrupted the call. No notice is sent.
	StatusCanceled Status = "canceled"
)

// Default user-facing notices.
const (
	DefaultTooExpensiveNotice = "Sorry, that request is too expensive for me to answer. Try asking something shorter."
	DefaultFailureNotice      = "Sorry, something went wrong while generating a response. Please try again later."
	DefaultEmptyNotice        = "Ask me a question and I'll do my best to answer."
)

// ModelClient invokes a model. Errors must wrap *upstream.Error so the retry
// executor can classify them.
type ModelClient interface {
	Complete(ctx context.Context, req models.CompletionRequest) (models.Completion, error)
}

// Delivery posts text to the place a response handle points at.
type Delivery interface {
	Deliver(ctx context.Context, target ack.ResponseHandle, text string) error
}

// Notices holds the fixed messages shown to users.
type Notices struct {
	TooExpensive string
	Failure      string
	Empty        string
}

// Config wires an Orchestrator.
type Config struct {
	// Model is the model id used for every request.
	Model string

	// Ceiling is the maximum estimated cost in USD for one request.
	Ceiling float64

	// MaxOutputTokens is sent to the model and used for estimation.
	MaxOutputTokens int

	Estimator *cost.Estimator
	Client    ModelClient
	Delivery  Delivery
	Prompts   PromptBuilder
	Retry     backoff.Policy
	Notices   Notices

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Now     func() time.Time
}

// Outcome describes what Respond did.
type Outcome struct {
	Status     Status
	Model      string
	Estimate   cost.Estimate
	Completion models.Completion
	Attempts   int
	Latency    time.Duration
	Err        error
}

// Orchestrator composes cost gating, retries, model calls and delivery.
type Orchestrator struct {
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	now     func() time.Time
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Model == "" {
		return nil, errors.New("orchestrator: model is required")
	}
	if cfg.Estimator == nil {
		return nil, errors.New("orchestrator: estimator is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("orchestrator: model client is required")
	}
	if cfg.Delivery == nil {
		return nil, errors.New("orchestrator: delivery is required")
	}
	if cfg.Ceiling < 0 {
		return nil, fmt.Errorf("orchestrator: cost ceiling must be non-negative, got %v", cfg.Ceiling)
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = backoff.DefaultPolicy()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if cfg.Prompts == nil {
		cfg.Prompts = TextPromptBuilder{}
	}
	if cfg.Notices.TooExpensive == "" {
		cfg.Notices.TooExpensive = DefaultTooExpensiveNotice
	}
	if cfg.Notices.Failure == "" {
		cfg.Notices.Failure = DefaultFailureNotice
	}
	if cfg.Notices.Empty == "" {
		cfg.Notices.Empty = DefaultEmptyNotice
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Orchestrator{
		cfg:     cfg,
		logger:  cfg.Logger.WithFields("component", "orchestrator"),
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		now:     cfg.Now,
	}, nil
}

// Respond produces and delivers the reply for ev. It never panics and never
// returns upstream error text to the user; the Outcome reports what happened.
func (o *Orchestrator) Respond(ctx context.Context, ev models.Event, cc correlation.Context) (out Outcome) {
	if !cc.IsZero() {
		ctx = correlation.WithContext(ctx, cc)
	}
	ctx, span := o.tracer.Start(ctx, observability.SpanRespond)
	defer span.End()

	start := o.now()
	target := ack.HandleFor(ev)
	out.Model = o.cfg.Model

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("respond panic: %v", p)
			o.metrics.RecordError("orchestrator", "panic")
			out = o.fail(ctx, target, out, StatusFailed, err)
		}
		out.Latency = o.now().Sub(start)
		o.metrics.RecordResponse(string(out.Status))
		o.tracer.SetAttributes(span,
			"model", out.Model,
			"status", string(out.Status),
			"attempts", out.Attempts,
		)
		if out.Err != nil {
			o.tracer.RecordError(span, out.Err)
		}
	}()

	// 1. Build the prompt.
	prompt, err := o.cfg.Prompts.Build(ctx, ev)
	if errors.Is(err, ErrEmptyPrompt) {
		out.Status = StatusEmpty
		o.notify(ctx, target, o.cfg.Notices.Empty)
		return out
	}
	if err != nil {
		return o.fail(ctx, target, out, StatusFailed, fmt.Errorf("build prompt: %w", err))
	}

	// 2. Estimate cost before any model call.
	estimate, err := o.estimate(prompt)
	if err != nil {
		return o.fail(ctx, target, out, StatusUnknownModel, err)
	}
	out.Estimate = estimate

	// 3. Refuse requests above the ceiling.
	if estimate.Exceeds(o.cfg.Ceiling) {
		out.Status = StatusCostRejected
		o.metrics.RecordCostRejection(o.cfg.Model)
		o.logger.Info(ctx, "request rejected by cost ceiling",
			"operation", observability.OpRespond,
			"outcome", string(StatusCostRejected),
			"model", o.cfg.Model,
			"input_tokens", estimate.InputTokens,
			"output_tokens", estimate.OutputTokens,
			"estimated_cost_usd", estimate.Cost,
			"ceiling_usd", o.cfg.Ceiling,
		)
		o.notify(ctx, target, o.cfg.Notices.TooExpensive)
		return out
	}

	// 4. Call the model through the retry executor.
	result, err := o.complete(ctx, prompt)
	out.Attempts = result.Attempts
	if err != nil {
		if ctx.Err() != nil || upstream.ReasonOf(err) == upstream.ReasonCanceled {
			out.Status = StatusCanceled
			out.Err = err
			o.logger.Info(ctx, "response canceled",
				"operation", observability.OpRespond,
				"outcome", string(StatusCanceled),
				"model", o.cfg.Model,
				"retry_attempt", result.Attempts,
			)
			return out
		}
		status := StatusFailed
		if upstream.ReasonOf(err) == upstream.ReasonUnknownModel {
			status = StatusUnknownModel
		}
		return o.fail(ctx, target, out, status, err)
	}
	out.Completion = result.Value

	// 5. Deliver and record.
	if err := o.cfg.Delivery.Deliver(ctx, target, result.Value.Text); err != nil {
		out.Status = StatusFailed
		out.Err = fmt.Errorf("deliver response: %w", err)
		o.metrics.RecordError("orchestrator", "delivery")
		o.logger.Error(ctx, "response delivery failed",
			"operation", observability.OpRespond,
			"outcome", string(StatusFailed),
			"model", o.cfg.Model,
			"retry_attempt", result.Attempts,
			"error", err,
		)
		return out
	}

	out.Status = StatusDelivered
	inputTokens, outputTokens := result.Value.InputTokens, result.Value.OutputTokens
	if inputTokens == 0 && outputTokens == 0 {
		inputTokens, outputTokens = estimate.InputTokens, estimate.OutputTokens
	}
	spent := estimate.Price.Cost(inputTokens, outputTokens)
	latency := o.now().Sub(start)

	o.metrics.RecordModelRequest(result.Value.Provider, o.cfg.Model, latency.Seconds(), inputTokens, outputTokens, spent)
	o.logger.Info(ctx, "response delivered",
		"operation", observability.OpRespond,
		"outcome", string(StatusDelivered),
		"model", o.cfg.Model,
		"input_tokens", inputTokens,
		"output_tokens", outputTokens,
		"cost_usd", spent,
		"retry_attempt", result.Attempts,
		"latency_ms", latency.Milliseconds(),
	)
	return out
}

func (o *Orchestrator) estimate(prompt Prompt) (cost.Estimate, error) {
	est := o.cfg.Estimator
	if o.cfg.MaxOutputTokens > 0 && o.cfg.MaxOutputTokens != est.OutputTokens {
		est = cost.NewEstimator(est.Prices, o.cfg.MaxOutputTokens)
	}
	return est.Estimate(prompt.Text(), o.cfg.Model)
}

func (o *Orchestrator) complete(ctx context.Context, prompt Prompt) (backoff.Result[models.Completion], error) {
	req := models.CompletionRequest{
		Model:     o.cfg.Model,
		System:    prompt.System,
		Prompt:    prompt.User,
		MaxTokens: o.cfg.MaxOutputTokens,
	}

	policy := o.cfg.Retry
	policy.OnRetry = func(ev backoff.RetryEvent) {
		reason := upstream.ReasonOf(ev.Err)
		o.metrics.RecordRetry(string(reason))
		args := []any{
			"operation", observability.OpRetry,
			"model", o.cfg.Model,
			"retry_attempt", ev.Attempt,
			"wait_ms", ev.Wait.Milliseconds(),
			"reason", string(reason),
			"status", upstream.StatusOf(ev.Err),
		}
		if ev.RateLimitWait > 0 {
			args = append(args, "rate_limit_wait_ms", ev.RateLimitWait.Milliseconds())
		}
		o.logger.Debug(ctx, "retrying model call", args...)
	}

	ctx, span := o.tracer.TraceModelRequest(ctx, "model", o.cfg.Model)
	defer span.End()

	result, err := backoff.Execute(ctx, policy, func(ctx context.Context, attempt int) (models.Completion, error) {
		return o.cfg.Client.Complete(ctx, req)
	})
	o.tracer.SetAttributes(span, "attempts", result.Attempts, "outcome", string(result.Outcome))
	if err != nil {
		o.tracer.RecordError(span, err)
	}
	return result, err
}

// fail logs err with full context and shows the user the generic notice.
func (o *Orchestrator) fail(ctx context.Context, target ack.ResponseHandle, out Outcome, status Status, err error) Outcome {
	out.Status = status
	out.Err = err

	args := []any{
		"operation", observability.OpRespond,
		"outcome", string(status),
		"model", o.cfg.Model,
		"retry_attempt", out.Attempts,
		"error", err,
	}
	var upErr *upstream.Error
	if errors.As(err, &upErr) {
		args = append(args,
			"provider", upErr.Provider,
			"status", upErr.Status,
			"reason", string(upErr.Reason),
			"class", string(upErr.Class),
		)
		if upErr.RequestID != "" {
			args = append(args, "request_id", upErr.RequestID)
		}
	}
	o.logger.Error(ctx, "response failed", args...)
	o.notify(ctx, target, o.cfg.Notices.Failure)
	return out
}

// notify sends a fixed notice. Delivery problems are logged only.
func (o *Orchestrator) notify(ctx context.Context, target ack.ResponseHandle, text string) {
	if err := o.cfg.Delivery.Deliver(ctx, target, text); err != nil {
		o.metrics.RecordError("orchestrator", "notify")
		o.logger.Warn(ctx, "failed to deliver notice", "error", err)
	}
}
