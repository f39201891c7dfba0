package outbox

import (
	"context"

	"go.uber.org/fx"

	coreconfig "github.com/Sokol111/ecommerce-outbox/pkg/core/config"
	"github.com/Sokol111/ecommerce-outbox/pkg/core/worker"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/events"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
)

// NewOutboxModule wires the writer, store, relay and dead-letter router.
// The relay runs as a supervised worker once all components report ready.
func NewOutboxModule() fx.Option {
	return fx.Options(
		fx.Provide(
			NewConfig,
			NewStore,
			NewNotifier,
			NewRouter,
			NewRelay,
			NewWriter,
			func(conf coreconfig.AppConfig) events.MetadataPopulator {
				return events.NewMetadataPopulator(conf.ServiceName)
			},
		),
		fx.Provide(worker.Register[*Relay]("outbox-relay", worker.WithReady(), worker.WithShutdown())),
		fx.Invoke(registerSchema),
	)
}

func registerSchema(lc fx.Lifecycle, m mongo.Mongo, conf Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return EnsureIndexes(ctx, m, conf)
		},
	})
}
