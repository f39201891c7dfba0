package mongo

import (
	"context"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/health"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewMongoModule provides MongoDB components for dependency injection.
func NewMongoModule() fx.Option {
	return fx.Provide(
		provideMongo,
		newConfig,
		newTxManager,
		NewTxChecker,
	)
}

func provideMongo(lc fx.Lifecycle, log *zap.Logger, conf Config, readiness health.ComponentManager) (Mongo, Admin, error) {
	m, err := newMongo(log, conf)
	if err != nil {
		return nil, nil, err
	}

	markReady := readiness.AddComponent("mongo")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			defer markReady()
			return m.connect(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return m.disconnect(ctx)
		},
	})

	return m, m, nil
}
