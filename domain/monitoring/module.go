package monitoring

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/lorebook/lorebook/internal/jobs"
)

// Module provides pipeline metrics and the /metrics endpoint
var Module = fx.Module("monitoring",
	fx.Provide(
		NewMetrics,
		func(m *Metrics) jobs.Observer { return m },
	),
	fx.Invoke(RegisterRoutes),
)

// RegisterRoutes exposes the prometheus scrape endpoint
func RegisterRoutes(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
