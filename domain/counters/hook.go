package counters

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lorebook/lorebook/internal/jobs"
	"github.com/lorebook/lorebook/pkg/logger"
)

// Hook recomputes aggregates for one entity per job. The payload names only
// the target; the count itself is derived from the source tables at
// execution time, so stale or duplicated jobs still land on the current
// truth.
type Hook struct {
	store Store
	log   *slog.Logger
}

// NewHook creates the counter queue handler
func NewHook(store Store, log *slog.Logger) *Hook {
	return &Hook{
		store: store,
		log:   log.With(logger.Scope("counters.hook")),
	}
}

// Handle recomputes the vote count for the target entity, and for stories
// the reply count as well. A target that no longer exists is a success: the
// deletion made the job moot, and retrying would never change that.
func (h *Hook) Handle(ctx context.Context, job *jobs.Job) error {
	payload, err := jobs.Decode[jobs.CounterPayload](job)
	if err != nil {
		return err
	}

	switch payload.EntityKind {
	case jobs.EntityStory, jobs.EntityReply:
	default:
		return fmt.Errorf("counter job %s targets unknown entity kind %q", job.ID, payload.EntityKind)
	}

	votes, err := h.store.CountVotes(ctx, payload.EntityKind, payload.EntityID)
	if err != nil {
		return err
	}

	rows, err := h.store.SetVoteCount(ctx, payload.EntityKind, payload.EntityID, votes)
	if err != nil {
		return err
	}
	if rows == 0 {
		h.log.Info("counter target missing, skipping",
			slog.String("entity_kind", string(payload.EntityKind)),
			slog.String("entity_id", payload.EntityID))
		return nil
	}

	if payload.EntityKind == jobs.EntityStory {
		replies, err := h.store.CountReplies(ctx, payload.EntityID)
		if err != nil {
			return err
		}
		if _, err := h.store.SetReplyCount(ctx, payload.EntityID, replies); err != nil {
			return err
		}
	}

	h.log.Debug("counters recomputed",
		slog.String("entity_kind", string(payload.EntityKind)),
		slog.String("entity_id", payload.EntityID),
		slog.Int("vote_count", votes))
	return nil
}
