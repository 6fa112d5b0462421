package slack

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/haasonsaas/relay/internal/ack"
)

// DeliveryConfig configures outbound throttling.
type DeliveryConfig struct {
	// RateLimit is messages per second across all targets. 0 = unlimited.
	RateLimit float64

	// RateBurst is the bucket size. Default: 1.
	RateBurst int

	// MaxMessageChars splits longer replies into several messages.
	// Default: MaxMessageChars.
	MaxMessageChars int

	// Webhook overrides how response URLs are posted, for tests.
	Webhook WebhookPoster
}

// Delivery posts response text to Slack.
type Delivery struct {
	api     APIClient
	webhook WebhookPoster
	limiter *rate.Limiter
	maxLen  int
}

// NewDelivery creates a delivery over api.
func NewDelivery(api APIClient, cfg DeliveryConfig) *Delivery {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	webhook := cfg.Webhook
	if webhook == nil {
		webhook = slack.PostWebhookContext
	}
	maxLen := cfg.MaxMessageChars
	if maxLen <= 0 {
		maxLen = MaxMessageChars
	}
	return &Delivery{
		api:     api,
		webhook: webhook,
		limiter: rate.NewLimiter(limit, burst),
		maxLen:  maxLen,
	}
}

// Deliver sends text to target. A response URL wins over the channel so
// command replies reach the invoking user even in channels the bot is not in.
// Text longer than the message limit is sent as several messages in order;
// the first failure stops delivery.
func (d *Delivery) Deliver(ctx context.Context, target ack.ResponseHandle, text string) error {
	if target.IsZero() {
		return errors.New("deliver: response handle has no destination")
	}
	pieces := splitMessage(text, d.maxLen)
	if len(pieces) == 0 {
		pieces = []string{text}
	}
	for i, piece := range pieces {
		if err := d.post(ctx, target, piece); err != nil {
			if len(pieces) > 1 {
				return fmt.Errorf("part %d of %d: %w", i+1, len(pieces), err)
			}
			return err
		}
	}
	return nil
}

func (d *Delivery) post(ctx context.Context, target ack.ResponseHandle, text string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}

	if target.URL != "" {
		msg := &slack.WebhookMessage{
			Text:            text,
			ResponseType:    "in_channel",
			ThreadTimestamp: target.ThreadTS,
		}
		if err := d.webhook(ctx, target.URL, msg); err != nil {
			return fmt.Errorf("post to response url: %w", err)
		}
		return nil
	}

	channel := target.Channel
	options := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if channel == "" {
		// Posting to a user id opens the bot's direct message with them.
		channel = target.User
	} else if target.ThreadTS != "" {
		options = append(options, slack.MsgOptionTS(target.ThreadTS))
	}
	if _, _, err := d.api.PostMessageContext(ctx, channel, options...); err != nil {
		return fmt.Errorf("post message to %s: %w", channel, err)
	}
	return nil
}
