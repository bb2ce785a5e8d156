package health

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

// Module wires the health endpoints
var Module = fx.Module("health",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

// RegisterRoutes mounts the probes
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/healthz", h.HandleLiveness)
	e.GET("/health", h.HandleReadiness)
}
