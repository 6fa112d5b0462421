// Package gateway routes inbound platform events through the event core.
//
// Every event is correlated, checked for redelivery and acknowledged through
// an ack.Gate before any slow work starts. Mentions, direct messages and the
// ask command go to the response orchestrator; view submissions go through
// the modal validation pipeline; the note shortcut opens the note modal.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/relay/internal/ack"
	"github.com/haasonsaas/relay/internal/correlation"
	"github.com/haasonsaas/relay/internal/dedupe"
	"github.com/haasonsaas/relay/internal/modal"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/orchestrator"
	"github.com/haasonsaas/relay/internal/storage"
	"github.com/haasonsaas/relay/pkg/models"
)

// Defaults for routing.
const (
	DefaultAskCommand   = "/ask"
	DefaultNoteShortcut = "new_note"
	DefaultThinkingText = "Thinking…"
	UnknownCommandText  = "Sorry, I don't know that command."

	// DefaultFailureNotice follows up on work that failed after the ack.
	DefaultFailureNotice = "Sorry, something went wrong handling that. Please try again."

	// DefaultDedupeTimeout caps the redelivery check on the fast path.
	DefaultDedupeTimeout = 250 * time.Millisecond
)

// Responder produces the reply for an acknowledged event.
type Responder interface {
	Respond(ctx context.Context, ev models.Event, cc correlation.Context) orchestrator.Outcome
}

// ViewOpener opens a form as a modal using a trigger id.
type ViewOpener interface {
	OpenView(ctx context.Context, trigger models.TriggerID, form modal.Form) error
}

// Config wires a Gateway.
type Config struct {
	Responder Responder
	Pipeline  *modal.Pipeline
	Views     ViewOpener
	Delivery  orchestrator.Delivery
	Store     storage.SubmissionStore
	Dedupe    dedupe.Store

	// AckDeadline bounds the fast path. Default: ack.DefaultDeadline.
	AckDeadline time.Duration

	// DedupeTimeout bounds Dedupe.Seen. It is further capped at a quarter
	// of the ack budget left. Default: DefaultDedupeTimeout.
	DedupeTimeout time.Duration

	AskCommand   string
	NoteShortcut string
	ThinkingText string
	FailureText  string

	// NoteForm is opened by the note shortcut. Default: modal.DefaultNoteForm.
	NoteForm *modal.Form

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Now     func() time.Time
}

// Gateway implements the Slack adapter's Handler.
type Gateway struct {
	cfg      Config
	noteForm modal.Form
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	now      func() time.Time

	tracker *ack.Tracker
	base    context.Context
	cancel  context.CancelFunc
}

// New validates cfg and returns a Gateway ready to handle events.
func New(cfg Config) (*Gateway, error) {
	if cfg.Responder == nil {
		return nil, errors.New("gateway: responder is required")
	}
	if cfg.Delivery == nil {
		return nil, errors.New("gateway: delivery is required")
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
	if cfg.Dedupe == nil {
		cfg.Dedupe = dedupe.NewMemory(dedupe.MemoryConfig{})
	}
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.AskCommand == "" {
		cfg.AskCommand = DefaultAskCommand
	}
	if cfg.NoteShortcut == "" {
		cfg.NoteShortcut = DefaultNoteShortcut
	}
	if cfg.ThinkingText == "" {
		cfg.ThinkingText = DefaultThinkingText
	}
	if cfg.FailureText == "" {
		cfg.FailureText = DefaultFailureNotice
	}
	if cfg.DedupeTimeout <= 0 {
		cfg.DedupeTimeout = DefaultDedupeTimeout
	}
	noteForm := modal.DefaultNoteForm()
	if cfg.NoteForm != nil {
		noteForm = *cfg.NoteForm
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = modal.NewPipeline(modal.Config{
			Logger:  cfg.Logger,
			Metrics: cfg.Metrics,
			Now:     cfg.Now,
		}, noteForm)
	}

	base, cancel := context.WithCancel(context.Background())
	return &Gateway{
		cfg:      cfg,
		noteForm: noteForm,
		logger:   cfg.Logger.WithFields("component", "gateway"),
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		now:      cfg.Now,
		tracker:  ack.NewTracker(),
		base:     base,
		cancel:   cancel,
	}, nil
}

// HandleEvent runs the fast path for ev and acknowledges it through acker
// exactly once. Slow work continues on the gateway's tracker after the ack.
func (g *Gateway) HandleEvent(ctx context.Context, ev models.Event, acker ack.Acker) {
	receivedAt := g.now()
	cc := correlation.Create(ev)
	ctx = correlation.WithContext(ctx, cc)
	ctx, span := g.tracer.Start(ctx, observability.SpanHandleEvent)
	defer span.End()

	// Slow work outlives the adapter's per-envelope context but stops on
	// Shutdown. It keeps the event's correlation.
	slowCtx := correlation.WithContext(g.base, cc)

	kind := string(ev.Kind)
	gate := ack.NewGate(acker, g.cfg.AckDeadline, g.now,
		ack.WithTracker(g.tracker),
		ack.WithReceivedAt(receivedAt),
		ack.WithObserver(func(r ack.Receipt) {
			g.metrics.RecordAck(kind, r.Latency.Seconds(), r.Missed)
		}),
		ack.WithFailureHandler(func(_ context.Context, err error) {
			g.slowFailed(slowCtx, followUpFor(ev), err)
		}),
	)

	if err := ev.Validate(); err != nil {
		g.metrics.EventInvalid(kind)
		g.logger.Warn(ctx, "dropping invalid event", "error", err)
		g.ack(ctx, gate, ack.Response{})
		return
	}

	if g.duplicate(ctx, gate, ev) {
		g.metrics.EventDuplicate(kind)
		g.logger.Debug(ctx, "ignoring redelivered event")
		g.ack(ctx, gate, ack.Response{})
		return
	}
	g.metrics.EventReceived(kind)

	var err error
	switch ev.Kind {
	case models.EventMention, models.EventDirectMessage:
		err = gate.Run(ctx, ack.Response{}, g.respond(slowCtx, ev, cc))

	case models.EventCommand:
		if ev.Command != g.cfg.AskCommand {
			err = gate.Ack(ctx, ack.Response{Text: UnknownCommandText})
			break
		}
		err = gate.Run(ctx, ack.Response{Text: g.cfg.ThinkingText}, g.respond(slowCtx, ev, cc))

	case models.EventShortcut:
		if ev.CallbackID != g.cfg.NoteShortcut || g.cfg.Views == nil {
			err = gate.Ack(ctx, ack.Response{})
			break
		}
		err = gate.Run(ctx, ack.Response{}, g.openNote(slowCtx, *ev.Trigger))

	case models.EventViewSubmission:
		sub := modal.SubmissionFromEvent(ev)
		var result modal.Result
		result, err = g.cfg.Pipeline.Handle(ctx, sub, gate, g.persist(slowCtx))
		g.tracer.SetAttributes(span, "modal.result", string(result))

	default:
		err = gate.Ack(ctx, ack.Response{})
	}

	if err != nil {
		g.ackFailed(ctx, err)
	}
}

// duplicate claims ev.ID in the dedupe store. The check runs before the ack,
// so it gets a slice of the remaining budget and fails open past it.
func (g *Gateway) duplicate(ctx context.Context, gate *ack.Gate, ev models.Event) bool {
	if ev.ID == "" {
		return false
	}
	timeout := min(g.cfg.DedupeTimeout, gate.Remaining()/4)
	if timeout <= 0 {
		g.logger.Warn(ctx, "skipping dedupe check", "reason", "ack budget spent")
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dup, err := g.cfg.Dedupe.Seen(ctx, ev.ID)
	if err != nil {
		// Processing twice is cheaper than dropping an event during an outage.
		g.metrics.RecordError("gateway", "dedupe")
		g.logger.Warn(ctx, "dedupe check failed", "error", err)
		return false
	}
	return dup
}

func (g *Gateway) ack(ctx context.Context, gate *ack.Gate, resp ack.Response) {
	if err := gate.Ack(ctx, resp); err != nil {
		g.ackFailed(ctx, err)
	}
}

func (g *Gateway) ackFailed(ctx context.Context, err error) {
	switch {
	case errors.Is(err, ack.ErrDeadlineMissed):
		g.logger.Warn(ctx, "ack sent after deadline", "error", err)
	case errors.Is(err, modal.ErrUnknownForm):
		g.logger.Warn(ctx, "submission for unregistered form", "error", err)
	default:
		g.metrics.RecordError("gateway", "ack")
		g.logger.Error(ctx, "ack failed", "error", err)
	}
}

// slowFailed handles work that failed after the ack. The user gets a fixed
// notice; the error itself only reaches the log.
func (g *Gateway) slowFailed(ctx context.Context, target ack.ResponseHandle, err error) {
	g.metrics.RecordError("gateway", "slow_path")
	g.logger.Error(ctx, "slow path failed", "error", err)
	if target.IsZero() || ctx.Err() != nil {
		return
	}
	if derr := g.cfg.Delivery.Deliver(ctx, target, g.cfg.FailureText); derr != nil {
		g.logger.Warn(ctx, "failure notice not delivered", "error", derr)
	}
}

// followUpFor is where a failure notice for ev goes. Submissions are answered
// by direct message since the modal has already closed.
func followUpFor(ev models.Event) ack.ResponseHandle {
	if ev.Kind == models.EventViewSubmission {
		return ack.ResponseHandle{User: ev.User}
	}
	return ack.HandleFor(ev)
}

// respond runs the orchestrator. It reports failures itself, logging and
// notifying the user, so nothing is returned to the failure handler.
func (g *Gateway) respond(ctx context.Context, ev models.Event, cc correlation.Context) func(context.Context) error {
	return func(context.Context) error {
		out := g.cfg.Responder.Respond(ctx, ev, cc)
		if out.Status == orchestrator.StatusFailed {
			g.logger.Debug(ctx, "response failed", "status", string(out.Status))
		}
		return nil
	}
}

func (g *Gateway) openNote(ctx context.Context, trigger models.TriggerID) func(context.Context) error {
	return func(context.Context) error {
		return g.cfg.Views.OpenView(ctx, trigger, g.noteForm)
	}
}

// Shutdown stops accepting slow work, cancels in-flight work (including
// backoff waits) and waits for it to unwind or ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.tracker.Close()
	g.cancel()
	if err := g.tracker.Wait(ctx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return nil
}

// Active returns the number of slow paths still running.
func (g *Gateway) Active() int {
	return g.tracker.Active()
}
