package counters

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/lorebook/lorebook/internal/jobs"
	"github.com/lorebook/lorebook/pkg/logger"
)

// Store is the slice of persistence the counter hook needs. Counts are read
// from the source-of-truth tables and written back as absolute values.
type Store interface {
	CountVotes(ctx context.Context, kind jobs.EntityKind, entityID string) (int, error)
	CountReplies(ctx context.Context, storyID string) (int, error)
	// SetVoteCount writes the recomputed value and reports how many rows
	// matched. Zero rows means the target no longer exists.
	SetVoteCount(ctx context.Context, kind jobs.EntityKind, entityID string, count int) (int64, error)
	SetReplyCount(ctx context.Context, storyID string, count int) (int64, error)
}

// Repository is the bun-backed Store
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

var _ Store = (*Repository)(nil)

// NewRepository creates the counter repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("counters.repository")),
	}
}

// CountVotes counts the votes currently recorded against an entity
func (r *Repository) CountVotes(ctx context.Context, kind jobs.EntityKind, entityID string) (int, error) {
	count, err := r.db.NewSelect().
		Model((*Vote)(nil)).
		Where("v.entity_kind = ?", string(kind)).
		Where("v.entity_id = ?", entityID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count votes for %s %s: %w", kind, entityID, err)
	}
	return count, nil
}

// CountReplies counts the replies currently attached to a story
func (r *Repository) CountReplies(ctx context.Context, storyID string) (int, error) {
	count, err := r.db.NewSelect().
		Model((*Reply)(nil)).
		Where("r.story_id = ?", storyID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count replies for story %s: %w", storyID, err)
	}
	return count, nil
}

// SetVoteCount writes an absolute vote count to the target row
func (r *Repository) SetVoteCount(ctx context.Context, kind jobs.EntityKind, entityID string, count int) (int64, error) {
	var query *bun.UpdateQuery
	switch kind {
	case jobs.EntityStory:
		query = r.db.NewUpdate().Model((*Story)(nil)).ModelTableExpr("lb.stories AS s")
	case jobs.EntityReply:
		query = r.db.NewUpdate().Model((*Reply)(nil)).ModelTableExpr("lb.replies AS r")
	default:
		return 0, fmt.Errorf("unknown entity kind: %s", kind)
	}

	res, err := query.
		Set("vote_count = ?", count).
		Set("updated_at = now()").
		Where("id = ?", entityID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to set vote count on %s %s: %w", kind, entityID, err)
	}
	return res.RowsAffected()
}

// SetReplyCount writes an absolute reply count to a story row
func (r *Repository) SetReplyCount(ctx context.Context, storyID string, count int) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*Story)(nil)).
		ModelTableExpr("lb.stories AS s").
		Set("reply_count = ?", count).
		Set("updated_at = now()").
		Where("id = ?", storyID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to set reply count on story %s: %w", storyID, err)
	}
	return res.RowsAffected()
}
