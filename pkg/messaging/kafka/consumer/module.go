package consumer

import (
	"go.uber.org/fx"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/worker"
)

// NewConsumerModule runs the consume loop as a supervised worker. The host
// application provides the MessageHandler, typically an inbox.Handler, and
// includes the kafka config module once.
func NewConsumerModule() fx.Option {
	return fx.Options(
		fx.Provide(
			NewConfig,
			NewConsumer,
		),
		fx.Provide(worker.Register[*Consumer]("kafka-consumer", worker.WithReady(), worker.WithShutdown())),
	)
}
