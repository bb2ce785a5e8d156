package fanout

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/lorebook/lorebook/domain/monitoring"
	"github.com/lorebook/lorebook/internal/config"
	"github.com/lorebook/lorebook/internal/jobs"
)

// Module wires the WebSocket endpoint, the connection registry and the
// socket queue consumer
var Module = fx.Module("fanout",
	fx.Provide(
		func(m *monitoring.Metrics) Observer { return m },
		func(cfg *config.Config, observer Observer, log *slog.Logger) *Registry {
			return NewRegistry(cfg.Fanout.WriteTimeout, observer, log)
		},
		NewBridge,
		NewHook,
	),
	fx.Invoke(
		RegisterRoutes,
		StartConsumer,
	),
)

// RegisterRoutes mounts the WebSocket endpoint
func RegisterRoutes(e *echo.Echo, bridge *Bridge, cfg *config.Config) {
	e.GET(cfg.Fanout.Path, bridge.HandleSocket)
}

// StartConsumer runs the socket queue consumer and tears connections down on
// shutdown
func StartConsumer(lc fx.Lifecycle, store jobs.Store, hook *Hook, registry *Registry, cfg *config.Config, observer jobs.Observer, log *slog.Logger) {
	consumer := jobs.NewConsumer(store, jobs.QueueSocket, cfg.Queues.Socket, hook.Handle, observer, log)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return consumer.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			err := consumer.Stop(ctx)
			registry.CloseAll()
			return err
		},
	})
}
