package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/relay/internal/upstream"
	"github.com/haasonsaas/relay/pkg/models"
)

func newAnthropicTestServer(t *testing.T, handler http.HandlerFunc) *Anthropic {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewAnthropic(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewAnthropic() error = %v", err)
	}
	return p
}

func TestNewAnthropic_RequiresKey(t *testing.T) {
	if _, err := NewAnthropic(AnthropicConfig{}); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestAnthropic_Complete(t *testing.T) {
	var body string
	p := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [{"type": "text", "text": "Hello there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 3}
		}`)
	})

	got, err := p.Complete(context.Background(), models.CompletionRequest{
		Model:  "claude-sonnet-4-20250514",
		System: "be brief",
		Prompt: "hi",
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.Text != "Hello there" || got.InputTokens != 12 || got.OutputTokens != 3 || got.Provider != "anthropic" {
		t.Errorf("Complete() = %+v", got)
	}
	if !strings.Contains(body, `"be brief"`) || !strings.Contains(body, `"hi"`) {
		t.Errorf("request body missing prompt or system: %s", body)
	}
}

func TestAnthropic_ErrorStatusSurfaces(t *testing.T) {
	tests := []struct {
		status int
		class  upstream.Class
	}{
		{http.StatusTooManyRequests, upstream.ClassRetryable},
		{http.StatusInternalServerError, upstream.ClassRetryable},
		{http.StatusBadRequest, upstream.ClassFatal},
		{http.StatusUnauthorized, upstream.ClassFatal},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls int
			p := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"upstream says no"}}`)
			})

			_, err := p.Complete(context.Background(), models.CompletionRequest{Model: "claude-sonnet-4", Prompt: "hi"})
			var upErr *upstream.Error
			if !errors.As(err, &upErr) {
				t.Fatalf("error = %v, want *upstream.Error", err)
			}
			if upErr.Status != tt.status || upErr.Class != tt.class {
				t.Errorf("status/class = %d/%s, want %d/%s", upErr.Status, upErr.Class, tt.status, tt.class)
			}
			if upErr.RetryAfter != 2*time.Second {
				t.Errorf("RetryAfter = %v", upErr.RetryAfter)
			}
			if calls != 1 {
				t.Errorf("SDK made %d calls; its own retries must be disabled", calls)
			}
		})
	}
}

func TestAnthropic_CancelledContext(t *testing.T) {
	p := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Complete(ctx, models.CompletionRequest{Model: "claude-sonnet-4", Prompt: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if upstream.Classify(err) != upstream.ClassFatal {
		t.Error("cancellation must not be retried")
	}
}
