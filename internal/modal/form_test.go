package modal

import (
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

func TestValidate_NoteForm(t *testing.T) {
	form := DefaultNoteForm()

	tests := []struct {
		name       string
		values     map[string]string
		accepted   bool
		errorBlock []string
	}{
		{
			name:       "title of four characters",
			values:     map[string]string{"title": "abcd", "body": "content"},
			errorBlock: []string{"title"},
		},
		{
			name:     "title of five characters",
			values:   map[string]string{"title": "abcde", "body": "content"},
			accepted: true,
		},
		{
			name:       "missing everything",
			values:     map[string]string{},
			errorBlock: []string{"title", "body"},
		},
		{
			name:       "body too long",
			values:     map[string]string{"title": "a good title", "body": strings.Repeat("x", 3001)},
			errorBlock: []string{"body"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Validate(form, Submission{CallbackID: NoteCallbackID, Values: tt.values})
			if out.Accepted != tt.accepted {
				t.Fatalf("Accepted = %v, want %v (errors %v)", out.Accepted, tt.accepted, out.Errors)
			}
			if len(out.Errors) != len(tt.errorBlock) {
				t.Fatalf("Errors = %v, want blocks %v", out.Errors, tt.errorBlock)
			}
			for _, block := range tt.errorBlock {
				if out.Errors[block] == "" {
					t.Errorf("missing inline error for block %q", block)
				}
			}
		})
	}
}

func TestValidate_FirstFailingRuleWins(t *testing.T) {
	out := Validate(DefaultNoteForm(), Submission{Values: map[string]string{"title": "", "body": "b"}})
	if out.Errors["title"] != "This field is required." {
		t.Errorf("title error = %q", out.Errors["title"])
	}
}

func TestValidate_TrimsValues(t *testing.T) {
	out := Validate(DefaultNoteForm(), Submission{Values: map[string]string{"title": "  Release notes ", "body": " text\n"}})
	if !out.Accepted {
		t.Fatalf("errors = %v", out.Errors)
	}
	if out.Values["title"] != "Release notes" || out.Values["body"] != "text" {
		t.Errorf("values = %q", out.Values)
	}
}

func TestNoteForm_Configurable(t *testing.T) {
	form := NoteForm(2, 10)
	out := Validate(form, Submission{Values: map[string]string{"title": "ab", "body": "0123456789"}})
	if !out.Accepted {
		t.Errorf("errors = %v", out.Errors)
	}
}

func TestSubmissionFromEvent(t *testing.T) {
	issued := time.Now()
	trigger := models.NewTriggerID("T1", issued)
	ev := models.Event{
		ID:         "Ev1",
		Kind:       models.EventViewSubmission,
		User:       "U1",
		CallbackID: NoteCallbackID,
		Trigger:    &trigger,
		Values:     map[string]string{"title": "hello"},
		Payload:    map[string]any{"view_id": "V1"},
		Timestamp:  issued,
	}
	sub := SubmissionFromEvent(ev)
	if sub.CallbackID != NoteCallbackID || sub.ViewID != "V1" || sub.Trigger.Value != "T1" || sub.Values["title"] != "hello" {
		t.Errorf("submission = %+v", sub)
	}
}
