package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/haasonsaas/relay/internal/ack"
	"github.com/haasonsaas/relay/internal/modal"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/storage"
)

const saveSubmissionTool = "save_submission"

// persist returns the processor for accepted submissions: it stores the
// values and confirms to the submitter by direct message.
func (g *Gateway) persist(ctx context.Context) modal.Processor {
	return func(_ context.Context, sub modal.Submission, values map[string]string) error {
		start := g.now()
		rec := &storage.Record{
			ID:           uuid.NewString(),
			SubmissionID: sub.ID,
			CallbackID:   sub.CallbackID,
			Team:         sub.Team,
			User:         sub.User,
			Values:       values,
			CreatedAt:    start,
		}

		err := g.cfg.Store.Save(ctx, rec)
		if errors.Is(err, storage.ErrAlreadyExists) {
			g.logger.Debug(ctx, "submission already stored",
				"operation", observability.OpToolCall,
				"tool", saveSubmissionTool,
				"submission_id", sub.ID,
			)
			return nil
		}
		if err != nil {
			// The failure handler logs the error and notifies the submitter.
			g.logger.Warn(ctx, "submission not stored",
				"operation", observability.OpToolCall,
				"tool", saveSubmissionTool,
				"outcome", "failed",
				"callback_id", sub.CallbackID,
				"error", err,
			)
			return fmt.Errorf("store submission %s: %w", sub.ID, err)
		}

		g.logger.Info(ctx, "submission stored",
			"operation", observability.OpToolCall,
			"tool", saveSubmissionTool,
			"outcome", "stored",
			"callback_id", sub.CallbackID,
			"record_id", rec.ID,
			"latency_ms", g.now().Sub(start).Milliseconds(),
		)

		if err := g.cfg.Delivery.Deliver(ctx, ack.ResponseHandle{User: sub.User}, confirmation(values)); err != nil {
			return fmt.Errorf("confirm submission %s: %w", sub.ID, err)
		}
		return nil
	}
}

func confirmation(values map[string]string) string {
	if title := values["title"]; title != "" {
		return fmt.Sprintf("Saved your note %q.", title)
	}
	return "Saved your submission."
}
