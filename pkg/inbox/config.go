package inbox

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Collection    string        `mapstructure:"collection"`
	LeaseDuration time.Duration `mapstructure:"lease-duration"`

	// ProcessedTTL bounds the dedup window. Records older than this are
	// removed, a replay beyond the window is processed again.
	ProcessedTTL time.Duration `mapstructure:"processed-ttl"`
}

func NewConfig(v *viper.Viper) (Config, error) {
	sub := v.Sub("inbox")
	if sub == nil {
		sub = viper.New()
	}

	sub.SetDefault("collection", "inbox")
	sub.SetDefault("lease-duration", 30*time.Second)
	sub.SetDefault("processed-ttl", 7*24*time.Hour)

	var conf Config
	if err := sub.Unmarshal(&conf); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal inbox config: %w", err)
	}

	if conf.LeaseDuration <= 0 {
		return Config{}, fmt.Errorf("inbox lease-duration must be positive, got %s", conf.LeaseDuration)
	}

	return conf, nil
}
