package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ChannelType represents a messaging platform.
type ChannelType string

const (
	ChannelSlack ChannelType = "slack"
)

// EventKind identifies the type of inbound platform event.
type EventKind string

const (
	EventMention        EventKind = "mention"
	EventDirectMessage  EventKind = "direct_message"
	EventCommand        EventKind = "command"
	EventAction         EventKind = "action"
	EventShortcut       EventKind = "shortcut"
	EventViewSubmission EventKind = "view_submission"
)

// Interactive reports whether events of this kind carry a trigger id.
func (k EventKind) Interactive() bool {
	switch k {
	case EventCommand, EventAction, EventShortcut, EventViewSubmission:
		return true
	default:
		return false
	}
}

// TriggerWindow is how long a platform trigger id stays usable after issue.
const TriggerWindow = 3 * time.Second

// ErrTriggerExpired is returned when a trigger-bound operation is attempted
// after the trigger's deadline.
var ErrTriggerExpired = errors.New("trigger id expired")

// TriggerID is a short-lived token that authorizes one interactive follow-up.
type TriggerID struct {
	Value     string    `json:"value"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTriggerID returns a trigger that expires TriggerWindow after issuedAt.
func NewTriggerID(value string, issuedAt time.Time) TriggerID {
	return TriggerID{
		Value:     value,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(TriggerWindow),
	}
}

// Valid reports whether the trigger can still be used at now.
func (t TriggerID) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// Check returns ErrTriggerExpired if the trigger is unusable at now.
func (t TriggerID) Check(now time.Time) error {
	if t.Value == "" {
		return fmt.Errorf("%w: empty trigger", ErrTriggerExpired)
	}
	if !now.Before(t.ExpiresAt) {
		return fmt.Errorf("%w: %s expired %s ago", ErrTriggerExpired, t.Value, now.Sub(t.ExpiresAt).Round(time.Millisecond))
	}
	return nil
}

// Remaining returns how long the trigger stays valid, or zero.
func (t TriggerID) Remaining(now time.Time) time.Duration {
	if d := t.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Event is one inbound occurrence delivered by the platform. Events are
// treated as immutable once received; handlers pass them by value.
type Event struct {
	// ID is the platform delivery id (envelope or event id) used to detect redelivery.
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	Channel   string         `json:"channel,omitempty"`
	User      string         `json:"user,omitempty"`
	Team      string         `json:"team,omitempty"`
	Text      string         `json:"text,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	MessageTS string         `json:"message_ts,omitempty"`
	ThreadTS  string         `json:"thread_ts,omitempty"`
	ActionTS  string         `json:"action_ts,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`

	// Command is the slash command name for EventCommand.
	Command string `json:"command,omitempty"`

	// CallbackID identifies the shortcut or view for interactive events.
	CallbackID string `json:"callback_id,omitempty"`

	// ResponseURL is the follow-up handle captured for commands and actions.
	ResponseURL string `json:"response_url,omitempty"`

	// Trigger is set for interactive flows.
	Trigger *TriggerID `json:"trigger,omitempty"`

	// Values holds view submission state keyed by block id.
	Values map[string]string `json:"values,omitempty"`
}

// Validate checks the fields required for the event's kind.
func (e Event) Validate() error {
	switch e.Kind {
	case EventMention, EventDirectMessage:
		if e.Channel == "" {
			return fmt.Errorf("%s event missing channel", e.Kind)
		}
	case EventCommand, EventAction, EventShortcut, EventViewSubmission:
		if e.Trigger == nil || e.Trigger.Value == "" {
			return fmt.Errorf("%s event missing trigger id", e.Kind)
		}
	case "":
		return errors.New("event kind is required")
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// PayloadString returns a string payload field, or "".
func (e Event) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}

// FormatTS renders t in the platform's "seconds.micros" timestamp form.
func FormatTS(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/int(time.Microsecond))
}

// ParseTS parses a "seconds.micros" platform timestamp.
func ParseTS(ts string) (time.Time, error) {
	secs, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	var nsec int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nsec, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
	}
	return time.Unix(sec, nsec), nil
}
