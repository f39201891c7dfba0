package config

import "go.uber.org/fx"

// NewKafkaConfigModule provides the broker connection config. Include it
// exactly once, the producer and consumer modules both depend on it.
func NewKafkaConfigModule() fx.Option {
	return fx.Module("kafka-config",
		fx.Provide(NewConfig),
	)
}
