package jobs

import "go.uber.org/fx"

// Module provides the job broker. Domain modules (mail, counters, activity,
// fanout) build their own Consumer on top and register it with the fx
// lifecycle.
var Module = fx.Module("jobs",
	fx.Provide(
		NewBroker,
		fx.Annotate(
			func(b *Broker) Enqueuer { return b },
			fx.As(new(Enqueuer)),
		),
		fx.Annotate(
			func(b *Broker) Store { return b },
			fx.As(new(Store)),
		),
	),
)
