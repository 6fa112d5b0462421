// Package correlation carries per-event identity through all work done for an event.
package correlation

import (
	"context"

	"github.com/google/uuid"

	"github.com/haasonsaas/relay/pkg/models"
)

// Context identifies one inbound event for tracing and logging. It is created
// at ingress and never mutated; copies are passed down the call chain.
type Context struct {
	id        string
	eventTS   string
	threadTS  string
	channel   string
	user      string
	eventKind models.EventKind
	eventID   string
}

// Create derives a correlation context from ev. The trace timestamp prefers
// the action timestamp, then the message timestamp, then the event timestamp.
func Create(ev models.Event) Context {
	eventTS := firstNonEmpty(ev.ActionTS, ev.MessageTS, models.FormatTS(ev.Timestamp))
	return Context{
		id:        uuid.NewString(),
		eventTS:   eventTS,
		threadTS:  firstNonEmpty(ev.ThreadTS, eventTS),
		channel:   ev.Channel,
		user:      ev.User,
		eventKind: ev.Kind,
		eventID:   ev.ID,
	}
}

func (c Context) ID() string                  { return c.id }
func (c Context) EventTS() string             { return c.eventTS }
func (c Context) ThreadTS() string            { return c.threadTS }
func (c Context) Channel() string             { return c.channel }
func (c Context) User() string                { return c.user }
func (c Context) EventKind() models.EventKind { return c.eventKind }

// IsZero reports whether c was never created.
func (c Context) IsZero() bool { return c.id == "" }

// Fields returns the context as flat slog key/value pairs. Empty values are omitted.
func (c Context) Fields() []any {
	fields := make([]any, 0, 14)
	fields = append(fields, "correlation_id", c.id)
	for _, kv := range [][2]string{
		{"event_ts", c.eventTS},
		{"thread_ts", c.threadTS},
		{"channel", c.channel},
		{"event_kind", string(c.eventKind)},
		{"user_id", c.user},
		{"event_id", c.eventID},
	} {
		if kv[1] != "" {
			fields = append(fields, kv[0], kv[1])
		}
	}
	return fields
}

// Merge appends call-site fields after the context fields so a single
// correlation id travels with every entry.
func (c Context) Merge(args ...any) []any {
	fields := c.Fields()
	return append(fields, args...)
}

type contextKey struct{}

// WithContext returns a child of ctx carrying c.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the correlation context stored in ctx.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	c, ok := ctx.Value(contextKey{}).(Context)
	return c, ok && !c.IsZero()
}

// IDFromContext returns the correlation id stored in ctx, or "".
func IDFromContext(ctx context.Context) string {
	c, _ := FromContext(ctx)
	return c.id
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
