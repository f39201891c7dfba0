package producer

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/health"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/config"
)

// NewProducerModule provides the shared kafka producer. The producer becomes
// a readiness component and blocks startup until the cluster is reachable.
// Requires the kafka config module.
func NewProducerModule() fx.Option {
	return fx.Provide(
		provideProducer,
	)
}

func provideProducer(lc fx.Lifecycle, log *zap.Logger, conf config.Config, readiness health.ComponentManager) (Producer, error) {
	p, err := newProducer(conf)
	if err != nil {
		return nil, err
	}

	markReady := readiness.AddComponent("kafka-producer")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := waitForBrokers(ctx, p, conf, log); err != nil {
				return err
			}
			markReady()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			remaining := p.Flush(int(conf.FlushTimeout.Milliseconds()))
			if remaining > 0 {
				log.Warn("kafka producer closed with undelivered messages", zap.Int("remaining", remaining))
			}
			p.Close()
			return nil
		},
	})

	return p, nil
}
