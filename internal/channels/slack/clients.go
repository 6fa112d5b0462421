package slack

import (
	"context"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// APIClient defines the Slack Web API operations used by the adapter and
// delivery. It allows mock injection during testing.
type APIClient interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	OpenViewContext(ctx context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error)
}

// SocketClient defines the Socket Mode operations used by the adapter.
type SocketClient interface {
	// RunContext holds the websocket connection open until ctx is done.
	RunContext(ctx context.Context) error

	// Ack acknowledges a request, optionally with a response payload.
	Ack(req socketmode.Request, payload ...interface{})

	// Events returns the channel of incoming envelopes.
	Events() <-chan socketmode.Event
}

// WebhookPoster posts to a response_url.
type WebhookPoster func(ctx context.Context, url string, msg *slack.WebhookMessage) error

// Ensure slack.Client implements APIClient
var _ APIClient = (*slack.Client)(nil)

type socketModeClient struct {
	*socketmode.Client
}

func (c socketModeClient) Events() <-chan socketmode.Event {
	return c.Client.Events
}

// MockAPIClient is a test double for APIClient.
type MockAPIClient struct {
	AuthTestContextFunc    func(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContextFunc func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	OpenViewContextFunc    func(ctx context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error)
}

func (m *MockAPIClient) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	if m.AuthTestContextFunc != nil {
		return m.AuthTestContextFunc(ctx)
	}
	return &slack.AuthTestResponse{UserID: "UBOT", TeamID: "T1", Team: "TestTeam"}, nil
}

func (m *MockAPIClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if m.PostMessageContextFunc != nil {
		return m.PostMessageContextFunc(ctx, channelID, options...)
	}
	return channelID, "1234567890.123456", nil
}

func (m *MockAPIClient) OpenViewContext(ctx context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error) {
	if m.OpenViewContextFunc != nil {
		return m.OpenViewContextFunc(ctx, triggerID, view)
	}
	return &slack.ViewResponse{}, nil
}

// AckCall records one Ack on a MockSocketClient.
type AckCall struct {
	Request socketmode.Request
	Payload []interface{}
}

// MockSocketClient is a test double for SocketClient.
type MockSocketClient struct {
	RunContextFunc func(ctx context.Context) error
	EventsChan     chan socketmode.Event

	mu   sync.Mutex
	acks []AckCall
}

// NewMockSocketClient returns a mock with a buffered events channel.
func NewMockSocketClient() *MockSocketClient {
	return &MockSocketClient{EventsChan: make(chan socketmode.Event, 100)}
}

func (m *MockSocketClient) RunContext(ctx context.Context) error {
	if m.RunContextFunc != nil {
		return m.RunContextFunc(ctx)
	}
	<-ctx.Done()
	return nil
}

func (m *MockSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks = append(m.acks, AckCall{Request: req, Payload: payload})
}

func (m *MockSocketClient) Events() <-chan socketmode.Event {
	return m.EventsChan
}

// Acks returns a copy of the recorded acks.
func (m *MockSocketClient) Acks() []AckCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AckCall(nil), m.acks...)
}
