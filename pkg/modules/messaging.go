package modules

import (
	"go.uber.org/fx"

	"github.com/Sokol111/ecommerce-outbox/pkg/inbox"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/delivery"
	kafkaconfig "github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/config"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/producer"
	"github.com/Sokol111/ecommerce-outbox/pkg/outbox"
)

// Producing wires staging and relay: the kafka producer, the delivery client
// and the outbox. Requires Core and Mongo.
func Producing() fx.Option {
	return fx.Options(
		kafkaconfig.NewKafkaConfigModule(),
		producer.NewProducerModule(),
		delivery.NewDeliveryModule(),
		outbox.NewOutboxModule(),
	)
}

// Consuming wires the idempotency guard for services that process events.
// Requires Core and Mongo. The host adds the consumer module with its own
// handler.
func Consuming() fx.Option {
	return inbox.NewInboxModule()
}
