// Package health exposes liveness and readiness endpoints.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/lorebook/lorebook/pkg/logger"
)

const pingTimeout = 2 * time.Second

// Handler answers health probes
type Handler struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewHandler creates the health handler
func NewHandler(pool *pgxpool.Pool, log *slog.Logger) *Handler {
	return &Handler{
		pool: pool,
		log:  log.With(logger.Scope("health")),
	}
}

// HandleLiveness always succeeds while the process is up
func (h *Handler) HandleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReadiness verifies the database is reachable. The pipeline cannot
// enqueue or drain anything without it.
func (h *Handler) HandleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), pingTimeout)
	defer cancel()

	if err := h.pool.Ping(ctx); err != nil {
		h.log.Warn("readiness probe failed", logger.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status":   "degraded",
			"database": "down",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":   "ok",
		"database": "up",
	})
}
