// Package main provides the entry point for the Lorebook side-effect
// pipeline: the durable job broker, its four queue consumers and the
// WebSocket fanout bridge.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/lorebook/lorebook/domain/activity"
	"github.com/lorebook/lorebook/domain/counters"
	"github.com/lorebook/lorebook/domain/fanout"
	"github.com/lorebook/lorebook/domain/health"
	"github.com/lorebook/lorebook/domain/ingest"
	"github.com/lorebook/lorebook/domain/mail"
	"github.com/lorebook/lorebook/domain/monitoring"
	"github.com/lorebook/lorebook/internal/config"
	"github.com/lorebook/lorebook/internal/database"
	"github.com/lorebook/lorebook/internal/jobs"
	"github.com/lorebook/lorebook/internal/migrate"
	"github.com/lorebook/lorebook/internal/server"
	"github.com/lorebook/lorebook/pkg/logger"
)

func main() {
	// Load .env if present (local development). Load() won't overwrite
	// variables already set in the environment.
	_ = godotenv.Load()

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		server.Module,

		// The broker every producer and consumer shares
		jobs.Module,

		// Domain modules
		monitoring.Module,
		health.Module,
		ingest.Module,
		mail.Module,
		counters.Module,
		activity.Module,
		fanout.Module,
	).Run()
}
