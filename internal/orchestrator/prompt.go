package orchestrator

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/haasonsaas/relay/pkg/models"
)

// ErrEmptyPrompt is returned when an event carries no question to answer.
var ErrEmptyPrompt = errors.New("event has no prompt text")

// DefaultSystemPrompt frames replies for a chat workspace.
const DefaultSystemPrompt = "You are a helpful assistant replying inside a Slack workspace. Answer concisely and use Slack markdown."

// Prompt is the content sent to the model.
type Prompt struct {
	System string
	User   string
}

// Text returns everything the model will read, for cost estimation.
func (p Prompt) Text() string {
	if p.System == "" {
		return p.User
	}
	return p.System + "\n\n" + p.User
}

// PromptBuilder turns an event into model input.
type PromptBuilder interface {
	Build(ctx context.Context, ev models.Event) (Prompt, error)
}

// PromptBuilderFunc adapts a function to the PromptBuilder interface.
type PromptBuilderFunc func(ctx context.Context, ev models.Event) (Prompt, error)

// Build calls f.
func (f PromptBuilderFunc) Build(ctx context.Context, ev models.Event) (Prompt, error) {
	return f(ctx, ev)
}

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+(\|[^>]*)?>`)

// TextPromptBuilder uses the event text with user mentions removed.
type TextPromptBuilder struct {
	System string
}

// Build returns the cleaned event text as the user prompt.
func (b TextPromptBuilder) Build(_ context.Context, ev models.Event) (Prompt, error) {
	text := strings.TrimSpace(mentionPattern.ReplaceAllString(ev.Text, ""))
	if text == "" {
		return Prompt{}, ErrEmptyPrompt
	}
	system := b.System
	if system == "" {
		system = DefaultSystemPrompt
	}
	return Prompt{System: system, User: text}, nil
}
