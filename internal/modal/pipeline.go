package modal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/relay/internal/ack"
	"github.com/haasonsaas/relay/internal/observability"
)

// Result is the terminal state reached by a submission.
type Result string

const (
	ResultAccepted    Result = "accepted"
	ResultRejected    Result = "rejected"
	ResultUnknownForm Result = "unknown_form"
)

// ErrUnknownForm is returned for submissions with no registered form.
var ErrUnknownForm = errors.New("no form registered for callback id")

// Processor handles an accepted submission after it has been acknowledged.
type Processor func(ctx context.Context, sub Submission, values map[string]string) error

// Pipeline validates submissions and drives their acknowledgment.
type Pipeline struct {
	mu      sync.RWMutex
	forms   map[string]Form
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Config configures a Pipeline.
type Config struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// NewPipeline returns a pipeline with forms registered.
func NewPipeline(cfg Config, forms ...Form) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	p := &Pipeline{
		forms:   make(map[string]Form, len(forms)),
		logger:  cfg.Logger.WithFields("component", "modal"),
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
	for _, f := range forms {
		p.Register(f)
	}
	return p
}

// Register adds or replaces a form.
func (p *Pipeline) Register(form Form) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forms[form.CallbackID] = form
}

// Form returns the form registered for callbackID.
func (p *Pipeline) Form(callbackID string) (Form, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.forms[callbackID]
	return f, ok
}

// Handle validates sub and then acknowledges it through gate. Validation
// always completes before the ack is sent. Rejected submissions are acked with
// inline errors and never processed. Accepted submissions are acked plainly
// and process runs afterwards on the gate's tracker.
//
// The returned error reports ack problems and unknown forms. Validation
// failures are not errors.
func (p *Pipeline) Handle(ctx context.Context, sub Submission, gate *ack.Gate, process Processor) (Result, error) {
	if err := sub.Trigger.Check(p.now()); err != nil {
		// The ack is still owed; only trigger-bound follow-ups are lost.
		p.logger.Warn(ctx, "submission trigger expired before handling",
			"callback_id", sub.CallbackID,
			"error", err,
		)
	}

	form, ok := p.Form(sub.CallbackID)
	if !ok {
		ackErr := gate.Ack(ctx, ack.Response{})
		p.metrics.RecordModalSubmission(sub.CallbackID, string(ResultUnknownForm))
		p.logger.Warn(ctx, "submission for unknown form", "callback_id", sub.CallbackID)
		return ResultUnknownForm, errors.Join(fmt.Errorf("%w: %q", ErrUnknownForm, sub.CallbackID), ackErr)
	}

	outcome := Validate(form, sub)

	if !outcome.Accepted {
		err := gate.Ack(ctx, ack.Response{Errors: outcome.Errors})
		p.metrics.RecordModalSubmission(form.CallbackID, string(ResultRejected))
		p.logger.Info(ctx, "submission rejected",
			"callback_id", form.CallbackID,
			"invalid_blocks", blockIDs(outcome.Errors),
		)
		return ResultRejected, err
	}

	var slow func(ctx context.Context) error
	if process != nil {
		slow = func(ctx context.Context) error {
			return process(ctx, sub, outcome.Values)
		}
	}
	err := gate.Run(ctx, ack.Response{}, slow)
	p.metrics.RecordModalSubmission(form.CallbackID, string(ResultAccepted))
	p.logger.Debug(ctx, "submission accepted", "callback_id", form.CallbackID)
	return ResultAccepted, err
}

// TriggerUsable reports whether sub's trigger can still authorize a follow-up.
func (p *Pipeline) TriggerUsable(sub Submission) error {
	if err := sub.Trigger.Check(p.now()); err != nil {
		return fmt.Errorf("submission %s: %w", sub.ID, err)
	}
	return nil
}

func blockIDs(errs map[string]string) []string {
	ids := make([]string, 0, len(errs))
	for id := range errs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
