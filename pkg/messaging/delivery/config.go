// Package delivery publishes events to the broker with failure
// classification, rate limiting and a circuit breaker.
package delivery

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	PublishTimeout time.Duration `mapstructure:"publish-timeout"`

	// RateLimit caps outgoing publishes per second, 0 disables the limiter.
	RateLimit float64 `mapstructure:"rate-limit"`
	RateBurst int     `mapstructure:"rate-burst"`

	BreakerConsecutiveFailures uint32        `mapstructure:"breaker-consecutive-failures"`
	BreakerOpenTimeout         time.Duration `mapstructure:"breaker-open-timeout"`
	BreakerMaxHalfOpenRequests uint32        `mapstructure:"breaker-max-half-open-requests"`
}

func NewConfig(v *viper.Viper) (Config, error) {
	sub := v.Sub("delivery")
	if sub == nil {
		sub = viper.New()
	}

	sub.SetDefault("publish-timeout", 10*time.Second)
	sub.SetDefault("rate-limit", 0)
	sub.SetDefault("rate-burst", 1)
	sub.SetDefault("breaker-consecutive-failures", 5)
	sub.SetDefault("breaker-open-timeout", 30*time.Second)
	sub.SetDefault("breaker-max-half-open-requests", 1)

	var conf Config
	if err := sub.Unmarshal(&conf); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal delivery config: %w", err)
	}

	return conf, nil
}
