// Package ack enforces acknowledge-before-work for inbound platform events.
//
// Every event gets one Gate. The gate sends exactly one acknowledgment through
// its Acker and only then hands higher-latency work to a tracked goroutine, so
// model calls and external I/O are always sequenced after the platform has
// been answered.
package ack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultDeadline is the platform's end-to-end acknowledgment budget.
const DefaultDeadline = 3 * time.Second

var (
	// ErrAlreadyAcknowledged is returned when a gate is asked to ack twice.
	ErrAlreadyAcknowledged = errors.New("event already acknowledged")

	// ErrDeadlineMissed reports an ack that was sent after the deadline.
	// The ack itself stands; this is informational.
	ErrDeadlineMissed = errors.New("acknowledgment deadline missed")
)

// Response is the acknowledgment payload. The zero value is a plain ack.
type Response struct {
	// Errors maps block ids to inline error messages for view submissions.
	Errors map[string]string

	// Text is an optional minimal confirmation for commands.
	Text string
}

// IsRejection reports whether the response carries inline errors.
func (r Response) IsRejection() bool {
	return len(r.Errors) > 0
}

// Acker sends the platform-visible acknowledgment for one event.
type Acker interface {
	Ack(ctx context.Context, resp Response) error
}

// AckerFunc adapts a function to the Acker interface.
type AckerFunc func(ctx context.Context, resp Response) error

// Ack calls f.
func (f AckerFunc) Ack(ctx context.Context, resp Response) error {
	return f(ctx, resp)
}

// Receipt records what a gate sent and when.
type Receipt struct {
	Response Response
	Latency  time.Duration
	Missed   bool
	Err      error
}

// Option configures a Gate.
type Option func(*Gate)

// WithTracker runs slow paths on t so shutdown can drain them.
func WithTracker(t *Tracker) Option {
	return func(g *Gate) { g.tracker = t }
}

// WithReceivedAt overrides the time the event was received. Latency is
// measured from this instant.
func WithReceivedAt(at time.Time) Option {
	return func(g *Gate) { g.received = at }
}

// WithObserver registers a callback invoked once after the ack is attempted.
func WithObserver(fn func(Receipt)) Option {
	return func(g *Gate) { g.observe = fn }
}

// WithFailureHandler registers the follow-up path for slow work that fails
// after the ack was committed.
func WithFailureHandler(fn func(ctx context.Context, err error)) Option {
	return func(g *Gate) { g.onFailure = fn }
}

// Gate guarantees a single acknowledgment for one event.
type Gate struct {
	acker     Acker
	deadline  time.Duration
	now       func() time.Time
	received  time.Time
	tracker   *Tracker
	observe   func(Receipt)
	onFailure func(ctx context.Context, err error)

	mu      sync.Mutex
	sent    bool
	receipt Receipt
}

// NewGate returns a gate for one event. A zero deadline uses DefaultDeadline
// and a nil clock uses time.Now.
func NewGate(acker Acker, deadline time.Duration, clock func() time.Time, opts ...Option) *Gate {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if clock == nil {
		clock = time.Now
	}
	g := &Gate{
		acker:    acker,
		deadline: deadline,
		now:      clock,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.received.IsZero() {
		g.received = clock()
	}
	return g
}

// Ack sends resp exactly once. A second call returns ErrAlreadyAcknowledged
// without reaching the Acker. When the ack is sent after the deadline the
// ack still counts and the returned error wraps ErrDeadlineMissed.
func (g *Gate) Ack(ctx context.Context, resp Response) error {
	g.mu.Lock()
	if g.sent {
		g.mu.Unlock()
		return ErrAlreadyAcknowledged
	}
	g.sent = true
	g.mu.Unlock()

	var err error
	if g.acker != nil {
		err = g.acker.Ack(ctx, resp)
	}
	latency := g.now().Sub(g.received)

	receipt := Receipt{
		Response: resp,
		Latency:  latency,
		Missed:   latency > g.deadline,
		Err:      err,
	}
	g.mu.Lock()
	g.receipt = receipt
	g.mu.Unlock()

	if g.observe != nil {
		g.observe(receipt)
	}

	if err != nil {
		return fmt.Errorf("send ack: %w", err)
	}
	if receipt.Missed {
		return fmt.Errorf("%w: acked after %s (deadline %s)", ErrDeadlineMissed, latency.Round(time.Millisecond), g.deadline)
	}
	return nil
}

// Run acknowledges with resp and then starts slow on the gate's tracker.
// If the ack cannot be sent the slow path is not started. A late ack still
// starts the slow path and Run returns the ErrDeadlineMissed report.
func (g *Gate) Run(ctx context.Context, resp Response, slow func(ctx context.Context) error) error {
	err := g.Ack(ctx, resp)
	if err != nil && !errors.Is(err, ErrDeadlineMissed) {
		return err
	}
	if slow == nil {
		return err
	}
	if !g.tracker.Go(func() { g.runSlow(ctx, slow) }) {
		return errors.Join(err, ErrTrackerClosed)
	}
	return err
}

func (g *Gate) runSlow(ctx context.Context, slow func(ctx context.Context) error) {
	if err := Safe(ctx, slow); err != nil && g.onFailure != nil {
		g.onFailure(ctx, err)
	}
}

// Sent reports whether the gate has acknowledged.
func (g *Gate) Sent() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent
}

// Receipt returns the recorded ack, if one was sent.
func (g *Gate) Receipt() (Receipt, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.receipt, g.sent
}

// Remaining returns the time left before the deadline, or zero.
func (g *Gate) Remaining() time.Duration {
	if d := g.deadline - g.now().Sub(g.received); d > 0 {
		return d
	}
	return 0
}

// Safe runs fn and converts a panic into an error.
func Safe(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("slow path panic: %v", p)
		}
	}()
	return fn(ctx)
}
