package delivery

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/producer"
)

// NewDeliveryModule provides the broker delivery client.
func NewDeliveryModule() fx.Option {
	return fx.Provide(
		NewConfig,
		func(p producer.Producer, conf Config, log *zap.Logger) Client {
			return NewClient(p, conf, log)
		},
	)
}
