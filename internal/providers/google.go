package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/relay/internal/upstream"
	"github.com/haasonsaas/relay/pkg/models"
)

// GoogleConfig configures the Gemini provider.
type GoogleConfig struct {
	APIKey  string
	BaseURL string
}

// Google calls the Gemini API.
type Google struct {
	client *genai.Client
}

// NewGoogle returns a provider for Gemini models.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}
	return &Google{client: client}, nil
}

// Name returns "google".
func (p *Google) Name() string { return "google" }

// Complete sends one GenerateContent request.
func (p *Google) Complete(ctx context.Context, req models.CompletionRequest) (models.Completion, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), config)
	if err != nil {
		return models.Completion{}, p.wrapError(err, req.Model)
	}

	out := models.Completion{
		Text:     resp.Text(),
		Model:    req.Model,
		Provider: p.Name(),
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if len(resp.Candidates) > 0 {
		out.StopReason = string(resp.Candidates[0].FinishReason)
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func (p *Google) wrapError(err error, model string) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return upstream.NewError(p.Name(), model, apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return upstream.NewError(p.Name(), model, apiErrPtr.Code, err)
	}
	return upstream.FromTransport(p.Name(), model, err)
}
