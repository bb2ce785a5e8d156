package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lorebook/lorebook/internal/jobs"
	"github.com/lorebook/lorebook/pkg/logger"
)

// Hook records one feed entry per job and optionally republishes it to the
// socket queue for live clients.
type Hook struct {
	store    Store
	enqueuer jobs.Enqueuer
	log      *slog.Logger
}

// NewHook creates the activity queue handler
func NewHook(store Store, enqueuer jobs.Enqueuer, log *slog.Logger) *Hook {
	return &Hook{
		store:    store,
		enqueuer: enqueuer,
		log:      log.With(logger.Scope("activity.hook")),
	}
}

// Handle persists the feed entry. When the payload asks for publication the
// entry is re-enqueued on the socket queue; a failure there retries the whole
// job, which can duplicate the feed row under at-least-once delivery.
func (h *Hook) Handle(ctx context.Context, job *jobs.Job) error {
	payload, err := jobs.Decode[jobs.ActivityPayload](job)
	if err != nil {
		return err
	}

	if payload.Verb == "" || payload.ObjectKind == "" {
		return fmt.Errorf("activity job %s missing verb or object kind", job.ID)
	}

	entry := &Activity{
		ActorID:    payload.ActorID,
		Verb:       payload.Verb,
		ObjectKind: payload.ObjectKind,
		ObjectID:   payload.ObjectID,
		Data:       payload.Data,
	}
	if len(entry.Data) == 0 {
		entry.Data = json.RawMessage(`{}`)
	}

	if err := h.store.Insert(ctx, entry); err != nil {
		return err
	}

	if payload.Publish {
		event, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to encode activity event: %w", err)
		}
		if _, err := h.enqueuer.Enqueue(ctx, jobs.QueueSocket, jobs.KindSocketAction, jobs.SocketPayload{
			Type: "action",
			Data: event,
		}); err != nil {
			return fmt.Errorf("failed to publish activity %s: %w", entry.ID, err)
		}
	}

	h.log.Debug("activity recorded",
		slog.String("verb", payload.Verb),
		slog.String("object_kind", payload.ObjectKind),
		slog.Bool("published", payload.Publish))
	return nil
}
