package counters

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/lorebook/lorebook/internal/config"
	"github.com/lorebook/lorebook/internal/jobs"
)

// Module wires the counter hook to a consumer on the counter queue
var Module = fx.Module("counters",
	fx.Provide(
		fx.Annotate(NewRepository, fx.As(new(Store))),
		NewHook,
	),
	fx.Invoke(StartConsumer),
)

// StartConsumer runs the counter queue consumer for the lifetime of the app
func StartConsumer(lc fx.Lifecycle, store jobs.Store, hook *Hook, cfg *config.Config, observer jobs.Observer, log *slog.Logger) {
	consumer := jobs.NewConsumer(store, jobs.QueueCounter, cfg.Queues.Counter, hook.Handle, observer, log)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return consumer.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return consumer.Stop(ctx)
		},
	})
}
