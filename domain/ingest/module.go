package ingest

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/lorebook/lorebook/internal/jobs"
)

// Module wires the producer-facing HTTP endpoints
var Module = fx.Module("ingest",
	fx.Provide(
		func(b *jobs.Broker) QueueService { return b },
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)

// RegisterRoutes mounts the pipeline API
func RegisterRoutes(e *echo.Echo, h *Handler) {
	api := e.Group("/api")
	api.POST("/enqueue", h.HandleEnqueue)
	api.GET("/queues/:queue/stats", h.HandleStats)
	api.GET("/jobs/:id", h.HandleGetJob)
}
