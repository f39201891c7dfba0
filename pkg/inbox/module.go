package inbox

import (
	"context"

	"go.uber.org/fx"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
)

// NewInboxModule provides the idempotency guard and its store.
func NewInboxModule() fx.Option {
	return fx.Options(
		fx.Provide(
			NewConfig,
			NewStore,
			NewGuard,
		),
		fx.Invoke(func(lc fx.Lifecycle, m mongo.Mongo, conf Config) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return EnsureIndexes(ctx, m, conf)
				},
			})
		}),
	)
}
