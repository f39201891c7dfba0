package outbox

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Collection           string `mapstructure:"collection"`
	DeadLetterCollection string `mapstructure:"dead-letter-collection"`

	// DeadLetterTopic receives a notification per dead-lettered record,
	// empty disables broker notifications.
	DeadLetterTopic string `mapstructure:"dead-letter-topic"`

	PollInterval  time.Duration `mapstructure:"poll-interval"`
	BatchSize     int           `mapstructure:"batch-size"`
	LeaseDuration time.Duration `mapstructure:"lease-duration"`

	MaxRetries    int           `mapstructure:"max-retries"`
	BackoffBase   time.Duration `mapstructure:"backoff-base"`
	BackoffFactor float64       `mapstructure:"backoff-factor"`
	BackoffCap    time.Duration `mapstructure:"backoff-cap"`
	BackoffJitter float64       `mapstructure:"backoff-jitter"`

	// PublishedTTL bounds how long delivered records stay queryable before
	// the TTL monitor removes them.
	PublishedTTL time.Duration `mapstructure:"published-ttl"`
}

func NewConfig(v *viper.Viper) (Config, error) {
	sub := v.Sub("outbox")
	if sub == nil {
		sub = viper.New()
	}

	sub.SetDefault("collection", "outbox")
	sub.SetDefault("dead-letter-collection", "outbox-dead-letter")
	sub.SetDefault("dead-letter-topic", "")
	sub.SetDefault("poll-interval", 2*time.Second)
	sub.SetDefault("batch-size", 50)
	sub.SetDefault("lease-duration", 30*time.Second)
	sub.SetDefault("max-retries", 10)
	sub.SetDefault("backoff-base", time.Second)
	sub.SetDefault("backoff-factor", 2.0)
	sub.SetDefault("backoff-cap", 5*time.Minute)
	sub.SetDefault("backoff-jitter", 0.2)
	sub.SetDefault("published-ttl", 7*24*time.Hour)

	var conf Config
	if err := sub.Unmarshal(&conf); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal outbox config: %w", err)
	}

	if err := conf.validate(); err != nil {
		return Config{}, err
	}

	return conf, nil
}

func (c Config) validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("outbox batch-size must be positive, got %d", c.BatchSize)
	}
	if c.LeaseDuration <= 0 {
		return fmt.Errorf("outbox lease-duration must be positive, got %s", c.LeaseDuration)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("outbox max-retries must not be negative, got %d", c.MaxRetries)
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("outbox backoff-factor must be at least 1, got %g", c.BackoffFactor)
	}
	if c.BackoffJitter < 0 || c.BackoffJitter > 1 {
		return fmt.Errorf("outbox backoff-jitter must be within [0, 1], got %g", c.BackoffJitter)
	}
	return nil
}
