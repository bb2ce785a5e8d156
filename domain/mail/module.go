package mail

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/lorebook/lorebook/internal/config"
	"github.com/lorebook/lorebook/internal/jobs"
)

// Module wires the mail hook to a consumer on the mail queue
var Module = fx.Module("mail",
	fx.Provide(
		func(cfg *config.Config) *config.MailConfig { return &cfg.Mail },
		NewRenderer,
		NewSender,
		NewHook,
	),
	fx.Invoke(StartConsumer),
)

// NewSender picks the provider from configuration. Without Mailgun
// credentials the queue still drains through the noop sender.
func NewSender(cfg *config.MailConfig, log *slog.Logger) Sender {
	if cfg.Enabled && cfg.IsConfigured() {
		return NewMailgunSender(cfg, log)
	}
	return NewNoopSender(log)
}

// StartConsumer runs the mail queue consumer for the lifetime of the app
func StartConsumer(lc fx.Lifecycle, store jobs.Store, hook *Hook, cfg *config.Config, observer jobs.Observer, log *slog.Logger) {
	consumer := jobs.NewConsumer(store, jobs.QueueMail, cfg.Queues.Mail, hook.Handle, observer, log)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return consumer.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return consumer.Stop(ctx)
		},
	})
}
