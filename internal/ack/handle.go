package ack

import "github.com/haasonsaas/relay/pkg/models"

// ResponseHandle identifies where follow-up replies for an event go. It is
// captured when the event is acknowledged.
type ResponseHandle struct {
	// URL is the platform response_url for commands and actions.
	URL string

	// Channel and ThreadTS address an in-thread reply.
	Channel  string
	ThreadTS string

	// User receives direct follow-ups when no channel is known.
	User string
}

// HandleFor captures the follow-up handle for ev. Threaded replies prefer the
// event's thread, then the message itself.
func HandleFor(ev models.Event) ResponseHandle {
	thread := ev.ThreadTS
	if thread == "" {
		thread = ev.MessageTS
	}
	return ResponseHandle{
		URL:      ev.ResponseURL,
		Channel:  ev.Channel,
		ThreadTS: thread,
		User:     ev.User,
	}
}

// IsZero reports whether the handle has no destination.
func (h ResponseHandle) IsZero() bool {
	return h.URL == "" && h.Channel == "" && h.User == ""
}
