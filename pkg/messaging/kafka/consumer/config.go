// Package consumer runs the broker consume loop that feeds guarded handlers.
package consumer

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	GroupID         string        `mapstructure:"group-id"`
	Topics          []string      `mapstructure:"topics"`
	AutoOffsetReset string        `mapstructure:"auto-offset-reset"`
	PollTimeout     time.Duration `mapstructure:"poll-timeout"`

	// RetryBackoff is the pause before re-reading a message whose handler
	// failed transiently.
	RetryBackoff time.Duration `mapstructure:"retry-backoff"`
}

func NewConfig(v *viper.Viper) (Config, error) {
	sub := v.Sub("kafka-consumer")
	if sub == nil {
		sub = viper.New()
	}

	sub.SetDefault("auto-offset-reset", "earliest")
	sub.SetDefault("poll-timeout", 100*time.Millisecond)
	sub.SetDefault("retry-backoff", 5*time.Second)

	var conf Config
	if err := sub.Unmarshal(&conf); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal kafka consumer config: %w", err)
	}

	if conf.GroupID == "" {
		return Config{}, fmt.Errorf("kafka consumer group-id is not configured")
	}
	if len(conf.Topics) == 0 {
		return Config{}, fmt.Errorf("kafka consumer topics are not configured")
	}

	return conf, nil
}
