package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/config"
)

// waitForBrokers polls cluster metadata until at least one broker answers or
// the readiness timeout elapses. A producer created against an unreachable
// cluster fails only on first produce, so the probe runs at startup instead.
func waitForBrokers(ctx context.Context, p Producer, conf config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, conf.ReadinessTimeout)
	defer cancel()

	policy := backoff.WithContext(newProbePolicy(), ctx)

	return backoff.RetryNotify(
		func() error {
			md, err := p.GetMetadata(nil, true, int((2 * time.Second).Milliseconds()))
			if err != nil {
				return fmt.Errorf("failed to fetch cluster metadata: %w", err)
			}
			if len(md.Brokers) == 0 {
				return fmt.Errorf("no brokers in cluster metadata")
			}
			return nil
		},
		policy,
		func(err error, next time.Duration) {
			log.Warn("kafka brokers not ready yet",
				zap.Error(err),
				zap.Duration("next-attempt-in", next))
		},
	)
}

func newProbePolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 0
	return policy
}
