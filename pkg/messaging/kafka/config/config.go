// Package config holds broker connection settings shared by kafka components.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Brokers           string        `mapstructure:"brokers"`
	ClientID          string        `mapstructure:"client-id"`
	Acks              string        `mapstructure:"acks"`
	EnableIdempotence bool          `mapstructure:"enable-idempotence"`
	ReadinessTimeout  time.Duration `mapstructure:"readiness-timeout"`
	FlushTimeout      time.Duration `mapstructure:"flush-timeout"`
}

func NewConfig(v *viper.Viper) (Config, error) {
	sub := v.Sub("kafka")
	if sub == nil {
		sub = viper.New()
	}

	sub.SetDefault("brokers", "localhost:9092")
	sub.SetDefault("client-id", "outbox-relay")
	sub.SetDefault("acks", "all")
	sub.SetDefault("enable-idempotence", true)
	sub.SetDefault("readiness-timeout", 30*time.Second)
	sub.SetDefault("flush-timeout", 10*time.Second)

	var conf Config
	if err := sub.Unmarshal(&conf); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal kafka config: %w", err)
	}

	if conf.Brokers == "" {
		return Config{}, fmt.Errorf("kafka brokers are not configured")
	}

	return conf, nil
}
