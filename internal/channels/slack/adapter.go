// Package slack connects the event core to Slack over Socket Mode.
//
// The adapter turns socketmode envelopes into models.Event values paired with
// an ack.Acker bound to the envelope, so the gateway decides what the
// acknowledgment carries. Delivery posts replies to response URLs or threads.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/haasonsaas/relay/internal/ack"
	"github.com/haasonsaas/relay/internal/modal"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/pkg/models"
)

// Config holds the configuration for the Slack adapter.
type Config struct {
	BotToken string // xoxb- token for API calls
	AppToken string // xapp- token for Socket Mode
	Debug    bool

	Logger *observability.Logger
	Now    func() time.Time
}

// Validate checks token presence and shape.
func (c Config) Validate() error {
	if c.BotToken == "" {
		return errors.New("slack bot token is required")
	}
	if !strings.HasPrefix(c.BotToken, "xoxb-") {
		return errors.New("slack bot token must start with xoxb-")
	}
	if c.AppToken == "" {
		return errors.New("slack app token is required")
	}
	if !strings.HasPrefix(c.AppToken, "xapp-") {
		return errors.New("slack app token must start with xapp-")
	}
	return nil
}

// Handler receives every converted event with the acker for its envelope.
// Implementations must call the acker exactly once.
type Handler interface {
	HandleEvent(ctx context.Context, ev models.Event, acker ack.Acker)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev models.Event, acker ack.Acker)

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, ev models.Event, acker ack.Acker) {
	f(ctx, ev, acker)
}

// Adapter reads Socket Mode envelopes and dispatches them to a Handler.
type Adapter struct {
	api    APIClient
	socket SocketClient
	logger *observability.Logger
	now    func() time.Time

	botUserID   string
	botUserIDMu sync.RWMutex
}

// NewAdapter creates an adapter with real Slack clients.
func NewAdapter(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	libLog := cfg.Logger.WithFields("component", "slack-go").StdLogger(slog.LevelDebug)
	client := slack.New(
		cfg.BotToken,
		slack.OptionAppLevelToken(cfg.AppToken),
		slack.OptionDebug(cfg.Debug),
		slack.OptionLog(libLog),
	)
	socket := socketmode.New(
		client,
		socketmode.OptionDebug(cfg.Debug),
		socketmode.OptionLog(libLog),
	)
	return NewAdapterWithClients(cfg, client, socketModeClient{socket}), nil
}

// NewAdapterWithClients creates an adapter over injected clients.
func NewAdapterWithClients(cfg Config, api APIClient, socket SocketClient) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Adapter{
		api:    api,
		socket: socket,
		logger: cfg.Logger.WithFields("component", "slack"),
		now:    cfg.Now,
	}
}

// API returns the Web API client, for building a Delivery.
func (a *Adapter) API() APIClient {
	return a.api
}

// Run authenticates, opens the Socket Mode connection and dispatches events
// to h until ctx is done or the connection fails.
func (a *Adapter) Run(ctx context.Context, h Handler) error {
	auth, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("authenticate with slack: %w", err)
	}
	a.botUserIDMu.Lock()
	a.botUserID = auth.UserID
	a.botUserIDMu.Unlock()
	a.logger.Info(ctx, "slack adapter started", "bot_user_id", auth.UserID, "team_id", auth.TeamID)

	runErr := make(chan error, 1)
	go func() {
		runErr <- a.socket.RunContext(ctx)
	}()

	events := a.socket.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("socket mode: %w", err)
			}
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			a.dispatch(ctx, evt, h)
		}
	}
}

// dispatch converts one envelope. Envelopes that carry no event for the
// handler are acked here so Slack does not redeliver them.
func (a *Adapter) dispatch(ctx context.Context, evt socketmode.Event, h Handler) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		a.logger.Debug(ctx, "connecting to socket mode")
		return
	case socketmode.EventTypeConnected:
		a.logger.Info(ctx, "connected to socket mode")
		return
	case socketmode.EventTypeConnectionError:
		a.logger.Warn(ctx, "socket mode connection error", "error", fmt.Sprint(evt.Data))
		return
	}
	if evt.Request == nil {
		return
	}

	ev, ok := a.convert(evt)
	acker := requestAcker{socket: a.socket, req: *evt.Request}
	if !ok {
		_ = acker.Ack(ctx, ack.Response{})
		return
	}
	h.HandleEvent(ctx, ev, acker)
}

// convert maps an envelope to an Event. It reports false for envelopes the
// core does not handle.
func (a *Adapter) convert(evt socketmode.Event) (models.Event, bool) {
	now := a.now()
	envelopeID := evt.Request.EnvelopeID

	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || apiEvent.Type != slackevents.CallbackEvent {
			return models.Event{}, false
		}
		id := envelopeID
		if eventID := callbackEventID(apiEvent.Data); eventID != "" {
			id = eventID
		}
		return a.convertCallback(id, apiEvent, now)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return models.Event{}, false
		}
		ev := models.Event{
			ID:          envelopeID,
			Kind:        models.EventCommand,
			Channel:     cmd.ChannelID,
			User:        cmd.UserID,
			Team:        cmd.TeamID,
			Text:        cmd.Text,
			Timestamp:   now,
			Command:     cmd.Command,
			ResponseURL: cmd.ResponseURL,
		}
		if cmd.TriggerID != "" {
			trigger := models.NewTriggerID(cmd.TriggerID, now)
			ev.Trigger = &trigger
		}
		return ev, true

	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return models.Event{}, false
		}
		return convertInteraction(envelopeID, cb, now)
	}
	return models.Event{}, false
}

func (a *Adapter) convertCallback(id string, apiEvent slackevents.EventsAPIEvent, now time.Time) (models.Event, bool) {
	switch inner := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		return models.Event{
			ID:        id,
			Kind:      models.EventMention,
			Channel:   inner.Channel,
			User:      inner.User,
			Team:      apiEvent.TeamID,
			Text:      inner.Text,
			Timestamp: timestampOr(inner.TimeStamp, now),
			MessageTS: inner.TimeStamp,
			ThreadTS:  inner.ThreadTimeStamp,
		}, true

	case *slackevents.MessageEvent:
		// Only direct messages from people; mentions arrive as app_mention.
		if inner.ChannelType != "im" || inner.BotID != "" || inner.SubType != "" {
			return models.Event{}, false
		}
		if inner.User == "" || inner.User == a.selfID() {
			return models.Event{}, false
		}
		return models.Event{
			ID:        id,
			Kind:      models.EventDirectMessage,
			Channel:   inner.Channel,
			User:      inner.User,
			Team:      apiEvent.TeamID,
			Text:      inner.Text,
			Timestamp: timestampOr(inner.TimeStamp, now),
			MessageTS: inner.TimeStamp,
			ThreadTS:  inner.ThreadTimeStamp,
		}, true
	}
	return models.Event{}, false
}

func convertInteraction(envelopeID string, cb slack.InteractionCallback, now time.Time) (models.Event, bool) {
	ev := models.Event{
		ID:          envelopeID,
		User:        cb.User.ID,
		Team:        cb.Team.ID,
		Channel:     cb.Channel.ID,
		Timestamp:   now,
		ActionTS:    cb.ActionTs,
		MessageTS:   cb.Message.Timestamp,
		ThreadTS:    cb.Message.ThreadTimestamp,
		CallbackID:  cb.CallbackID,
		ResponseURL: cb.ResponseURL,
	}

	switch cb.Type {
	case slack.InteractionTypeViewSubmission:
		ev.Kind = models.EventViewSubmission
		ev.CallbackID = cb.View.CallbackID
		// The id stays the envelope id: Slack keeps the view id and hash
		// across an inline rejection, so a corrected resubmission would
		// otherwise look like a redelivery.
		ev.Payload = map[string]any{"view_id": cb.View.ID, "view_hash": cb.View.Hash}
		ev.Values = viewValues(cb.View.State)
	case slack.InteractionTypeShortcut, slack.InteractionTypeMessageAction:
		ev.Kind = models.EventShortcut
	case slack.InteractionTypeBlockActions:
		ev.Kind = models.EventAction
		if actions := cb.ActionCallback.BlockActions; len(actions) > 0 {
			ev.CallbackID = actions[0].ActionID
			ev.ActionTS = actions[0].ActionTs
			ev.Text = actions[0].Value
		}
	default:
		return models.Event{}, false
	}

	if cb.TriggerID != "" {
		trigger := models.NewTriggerID(cb.TriggerID, now)
		ev.Trigger = &trigger
	}
	return ev, true
}

// OpenView opens form as a modal. It refuses triggers that have already
// expired, since Slack would reject them anyway.
func (a *Adapter) OpenView(ctx context.Context, trigger models.TriggerID, form modal.Form) error {
	if err := trigger.Check(a.now()); err != nil {
		return fmt.Errorf("open view %s: %w", form.CallbackID, err)
	}
	if _, err := a.api.OpenViewContext(ctx, trigger.Value, ModalView(form)); err != nil {
		return fmt.Errorf("open view %s: %w", form.CallbackID, err)
	}
	return nil
}

func (a *Adapter) selfID() string {
	a.botUserIDMu.RLock()
	defer a.botUserIDMu.RUnlock()
	return a.botUserID
}

// requestAcker acknowledges one Socket Mode envelope.
type requestAcker struct {
	socket SocketClient
	req    socketmode.Request
}

func (r requestAcker) Ack(ctx context.Context, resp ack.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch {
	case resp.IsRejection():
		r.socket.Ack(r.req, slack.NewErrorsViewSubmissionResponse(resp.Errors))
	case resp.Text != "":
		r.socket.Ack(r.req, map[string]interface{}{"text": resp.Text})
	default:
		r.socket.Ack(r.req)
	}
	return nil
}

func callbackEventID(data interface{}) string {
	switch cb := data.(type) {
	case *slackevents.EventsAPICallbackEvent:
		return cb.EventID
	case slackevents.EventsAPICallbackEvent:
		return cb.EventID
	}
	return ""
}

// viewValues flattens submitted state to one value per block.
func viewValues(state *slack.ViewState) map[string]string {
	values := make(map[string]string)
	if state == nil {
		return values
	}
	for blockID, actions := range state.Values {
		actionIDs := make([]string, 0, len(actions))
		for id := range actions {
			actionIDs = append(actionIDs, id)
		}
		sort.Strings(actionIDs)
		if len(actionIDs) > 0 {
			values[blockID] = actions[actionIDs[0]].Value
		}
	}
	return values
}

func timestampOr(ts string, fallback time.Time) time.Time {
	if t, err := models.ParseTS(ts); err == nil {
		return t
	}
	return fallback
}
