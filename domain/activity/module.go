package activity

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/lorebook/lorebook/internal/config"
	"github.com/lorebook/lorebook/internal/jobs"
)

// Module wires the activity hook to a consumer on the activity queue
var Module = fx.Module("activity",
	fx.Provide(
		fx.Annotate(NewRepository, fx.As(new(Store))),
		NewHook,
	),
	fx.Invoke(StartConsumer),
)

// StartConsumer runs the activity queue consumer for the lifetime of the app
func StartConsumer(lc fx.Lifecycle, store jobs.Store, hook *Hook, cfg *config.Config, observer jobs.Observer, log *slog.Logger) {
	consumer := jobs.NewConsumer(store, jobs.QueueActivity, cfg.Queues.Activity, hook.Handle, observer, log)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return consumer.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return consumer.Stop(ctx)
		},
	})
}
