package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/relay/internal/upstream"
	"github.com/haasonsaas/relay/pkg/models"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Anthropic calls the Claude Messages API.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic returns a provider for Claude models.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &Anthropic{client: anthropic.NewClient(opts...)}, nil
}

// Name returns "anthropic".
func (p *Anthropic) Name() string { return "anthropic" }

// Complete sends one non-streaming Messages request.
func (p *Anthropic) Complete(ctx context.Context, req models.CompletionRequest) (models.Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens(req.MaxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return models.Completion{}, p.wrapError(err, req.Model)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return models.Completion{
		Text:         text.String(),
		Model:        string(msg.Model),
		Provider:     p.Name(),
		StopReason:   string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

func (p *Anthropic) wrapError(err error, model string) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return upstream.FromTransport(p.Name(), model, err)
	}
	upErr := upstream.NewError(p.Name(), model, apiErr.StatusCode, err)
	if apiErr.RequestID != "" {
		upErr = upErr.WithRequestID(apiErr.RequestID)
	}
	if apiErr.Response != nil {
		upErr = upErr.WithRetryAfter(parseRetryAfter(apiErr.Response.Header, time.Now()))
		if upErr.RequestID == "" {
			upErr = upErr.WithRequestID(apiErr.Response.Header.Get("Request-Id"))
		}
	}
	return upErr
}
