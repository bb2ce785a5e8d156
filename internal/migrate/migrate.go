// Package migrate runs embedded goose migrations at startup.
package migrate

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
	"go.uber.org/fx"

	"github.com/lorebook/lorebook/migrations"
	"github.com/lorebook/lorebook/pkg/logger"
)

var Module = fx.Module("migrate",
	fx.Invoke(Run),
)

// Run applies pending migrations from the embedded filesystem.
// Workers only start after this completes, so the jobs table always exists
// before the first dequeue.
func Run(sqldb *sql.DB, log *slog.Logger) error {
	log = log.With(logger.Scope("migrate"))

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.Up(sqldb, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, err := goose.GetDBVersion(sqldb)
	if err != nil {
		return fmt.Errorf("get migration version: %w", err)
	}

	log.Info("migrations applied", slog.Int64("version", version))
	return nil
}
