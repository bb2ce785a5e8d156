package activity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/lorebook/lorebook/pkg/logger"
)

// Store persists feed entries
type Store interface {
	Insert(ctx context.Context, activity *Activity) error
}

// Repository is the bun-backed Store
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

var _ Store = (*Repository)(nil)

// NewRepository creates the activity repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("activity.repository")),
	}
}

// Insert appends one feed entry
func (r *Repository) Insert(ctx context.Context, activity *Activity) error {
	if _, err := r.db.NewInsert().
		Model(activity).
		Returning("id, created_at").
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}
