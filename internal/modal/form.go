// Package modal validates structured modal submissions before they are
// acknowledged.
//
// A submission moves from validate to a terminal state exactly once. Failed
// constraints become the acknowledgment itself (inline errors keyed by block
// id). Passing submissions get a plain acknowledgment and are processed
// afterwards on the gate's tracker.
package modal

import (
	"strings"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

// NoteCallbackID identifies the built-in note form.
const NoteCallbackID = "create_note"

// Field is one input on a form.
type Field struct {
	BlockID     string
	ActionID    string
	Label       string
	Placeholder string
	Multiline   bool
	Rules       []Rule
}

// Form is the set of fields a view submission is checked against.
type Form struct {
	CallbackID string
	Title      string
	Submit     string
	Fields     []Field
}

// NoteForm returns the note form with the given title minimum and body
// maximum lengths.
func NoteForm(titleMin, bodyMax int) Form {
	return Form{
		CallbackID: NoteCallbackID,
		Title:      "Create a note",
		Submit:     "Save",
		Fields: []Field{
			{
				BlockID:     "title",
				ActionID:    "title_input",
				Label:       "Title",
				Placeholder: "What is this note about?",
				Rules:       []Rule{Required(), MinLength(titleMin)},
			},
			{
				BlockID:     "body",
				ActionID:    "body_input",
				Label:       "Body",
				Placeholder: "Write your note",
				Multiline:   true,
				Rules:       []Rule{Required(), MaxLength(bodyMax)},
			},
		},
	}
}

// DefaultNoteForm returns the note form with a five character title minimum
// and a 3000 character body limit.
func DefaultNoteForm() Form {
	return NoteForm(5, 3000)
}

// Submission is one modal submission. It is consumed exactly once.
type Submission struct {
	ID         string
	CallbackID string
	ViewID     string
	User       string
	Team       string
	Values     map[string]string
	Trigger    models.TriggerID
	ReceivedAt time.Time
}

// SubmissionFromEvent extracts the submission carried by a view_submission event.
func SubmissionFromEvent(ev models.Event) Submission {
	sub := Submission{
		ID:         ev.ID,
		CallbackID: ev.CallbackID,
		ViewID:     ev.PayloadString("view_id"),
		User:       ev.User,
		Team:       ev.Team,
		Values:     ev.Values,
		ReceivedAt: ev.Timestamp,
	}
	if ev.Trigger != nil {
		sub.Trigger = *ev.Trigger
	}
	return sub
}

// Outcome is the result of validating a submission.
type Outcome struct {
	Accepted bool

	// Errors maps block ids to the first failing rule's message.
	Errors map[string]string

	// Values holds trimmed field values keyed by block id.
	Values map[string]string
}

// Validate checks every field of form against sub. It performs no I/O.
func Validate(form Form, sub Submission) Outcome {
	out := Outcome{
		Errors: make(map[string]string),
		Values: make(map[string]string, len(form.Fields)),
	}
	for _, field := range form.Fields {
		value := sub.Values[field.BlockID]
		for _, rule := range field.Rules {
			if msg := rule.Check(value); msg != "" {
				out.Errors[field.BlockID] = msg
				break
			}
		}
		out.Values[field.BlockID] = strings.TrimSpace(value)
	}
	out.Accepted = len(out.Errors) == 0
	if out.Accepted {
		out.Errors = nil
	}
	return out
}
