package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/relay/internal/upstream"
	"github.com/haasonsaas/relay/pkg/models"
)

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	return p
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{}); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestOpenAI_Complete(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hi!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 2, "total_tokens": 11}
		}`)
	})

	got, err := p.Complete(context.Background(), models.CompletionRequest{Model: "gpt-4o", System: "s", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.Text != "Hi!" || got.InputTokens != 9 || got.OutputTokens != 2 || got.StopReason != "stop" {
		t.Errorf("Complete() = %+v", got)
	}
}

func TestOpenAI_ErrorStatusSurfaces(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusNotFound} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"server_error","code":null}}`)
			})

			_, err := p.Complete(context.Background(), models.CompletionRequest{Model: "gpt-4o", Prompt: "hi"})
			if got := upstream.StatusOf(err); got != status {
				t.Errorf("StatusOf() = %d, want %d (err %v)", got, status, err)
			}
			wantClass := upstream.ClassFromStatus(status)
			if upstream.Classify(err) != wantClass {
				t.Errorf("Classify() = %s, want %s", upstream.Classify(err), wantClass)
			}
		})
	}
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","model":"gpt-4o","choices":[]}`)
	})
	_, err := p.Complete(context.Background(), models.CompletionRequest{Model: "gpt-4o", Prompt: "hi"})
	var upErr *upstream.Error
	if !errors.As(err, &upErr) || upErr.Status != http.StatusBadGateway {
		t.Errorf("error = %v, want 502 upstream error", err)
	}
}
