package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/relay/internal/upstream"
	"github.com/haasonsaas/relay/pkg/models"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAI calls the Chat Completions API.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI returns a provider for GPT models.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientConfig)}, nil
}

// Name returns "openai".
func (p *OpenAI) Name() string { return "openai" }

// Complete sends one non-streaming chat completion.
func (p *OpenAI) Complete(ctx context.Context, req models.CompletionRequest) (models.Completion, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: maxTokens(req.MaxTokens),
	})
	if err != nil {
		return models.Completion{}, p.wrapError(err, req.Model)
	}
	if len(resp.Choices) == 0 {
		return models.Completion{}, upstream.NewError(p.Name(), req.Model, http.StatusBadGateway, errors.New("openai: response contained no choices"))
	}

	choice := resp.Choices[0]
	return models.Completion{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		Provider:     p.Name(),
		StopReason:   string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (p *OpenAI) wrapError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return upstream.NewError(p.Name(), model, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return upstream.NewError(p.Name(), model, reqErr.HTTPStatusCode, err)
	}
	return upstream.FromTransport(p.Name(), model, err)
}
