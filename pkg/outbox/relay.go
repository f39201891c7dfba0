package outbox

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/delivery"
)

// Relay claims due outbox records and publishes them. Multiple relay
// instances may run concurrently, the claim lease keeps them from publishing
// the same record at the same time while the record key keeps duplicates
// harmless downstream.
type Relay struct {
	store    Store
	client   delivery.Client
	router   Router
	notifier Notifier
	conf     Config
	log      *zap.Logger
	now      func() time.Time
}

func NewRelay(store Store, client delivery.Client, router Router, notifier Notifier, conf Config, log *zap.Logger) *Relay {
	return &Relay{
		store:    store,
		client:   client,
		router:   router,
		notifier: notifier,
		conf:     conf,
		log:      log,
		now:      time.Now,
	}
}

// Run polls until the context is cancelled. Writer wake signals shorten the
// wait, the ticker guarantees progress without them.
func (r *Relay) Run(ctx context.Context) error {
	ctx = logger.With(ctx, r.log)
	ticker := time.NewTicker(r.conf.PollInterval)
	defer ticker.Stop()

	for {
		r.drain(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.notifier.C():
		}
	}
}

// drain processes batches until the store has no more due records. Store
// errors end the pass, the next tick retries.
func (r *Relay) drain(ctx context.Context) {
	for {
		processed, err := r.processBatch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.log.Error("outbox relay pass failed", zap.Error(err))
			}
			return
		}
		if processed == 0 {
			return
		}
	}
}

func (r *Relay) processBatch(ctx context.Context) (int, error) {
	records, err := r.store.ClaimBatch(ctx, r.conf.BatchSize, r.conf.LeaseDuration)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	claimedIDs := lo.Map(records, func(record Record, _ int) string { return record.ID })

	// Aggregates are independent, so they publish in parallel. Records of
	// one aggregate stay sequential to preserve creation order.
	groups := lo.GroupBy(records, func(record Record) string {
		return record.AggregateType + "/" + record.AggregateID
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			r.deliverGroup(gctx, group, claimedIDs)
			return nil
		})
	}
	_ = g.Wait()

	return len(records), nil
}

// deliverGroup publishes the records of one aggregate in creation order. A
// transient failure stops the group so successors cannot overtake, the
// remaining claims are released without consuming retries.
func (r *Relay) deliverGroup(ctx context.Context, group []Record, claimedIDs []string) {
	for i, record := range group {
		blocked, err := r.store.HasEarlierPending(ctx, record.AggregateType, record.AggregateID, record.CreatedAt, claimedIDs)
		if err != nil {
			r.log.Error("failed to check aggregate ordering", zap.String("record-id", record.ID), zap.Error(err))
			r.releaseRest(ctx, group[i:])
			return
		}
		if blocked {
			// An earlier record of this aggregate is queued outside this
			// claim, e.g. backing off after a failure. Wait for it.
			r.releaseRest(ctx, group[i:])
			return
		}

		if !r.deliverRecord(ctx, record) {
			r.releaseRest(ctx, group[i+1:])
			return
		}
	}
}

// deliverRecord publishes one record and records the outcome. It reports
// whether successors of the same aggregate may proceed.
func (r *Relay) deliverRecord(ctx context.Context, record Record) bool {
	err := r.client.Publish(ctx, delivery.Message{
		ID:      record.ID,
		Topic:   record.Topic,
		Key:     record.Key,
		Headers: record.Headers,
		Value:   record.Payload,
	})

	switch {
	case err == nil:
		if err := r.store.MarkPublished(ctx, record.ID, record.ClaimToken); err != nil {
			if errors.Is(err, ErrClaimConflict) {
				// Lease expired mid-flight and another relay took over. The
				// duplicate publish is covered by at-least-once semantics.
				r.log.Info("lost claim after publishing", zap.String("record-id", record.ID))
				return false
			}
			r.log.Error("failed to mark record published", zap.String("record-id", record.ID), zap.Error(err))
			return false
		}
		r.log.Debug("published outbox record",
			zap.String("record-id", record.ID),
			zap.String("topic", record.Topic),
			zap.Int("retry-count", record.RetryCount))
		return true

	case errors.Is(err, delivery.ErrPermanent):
		r.failRecord(ctx, record, fmt.Sprintf("permanent delivery failure: %v", err))
		// A terminal failure does not gate successors, a permanently broken
		// record would otherwise wedge its aggregate forever.
		return true

	default:
		if record.RetryCount+1 > r.conf.MaxRetries {
			r.failRecord(ctx, record, fmt.Sprintf("retry budget exhausted after %d attempts: %v", record.RetryCount+1, err))
			return true
		}

		nextAttempt := r.now().UTC().Add(r.backoffDelay(record.RetryCount))
		retryErr := r.store.ScheduleRetry(ctx, record.ID, record.ClaimToken, nextAttempt, err.Error())
		if retryErr != nil && !errors.Is(retryErr, ErrClaimConflict) {
			r.log.Error("failed to schedule retry", zap.String("record-id", record.ID), zap.Error(retryErr))
		}
		r.log.Warn("delivery failed, retry scheduled",
			zap.String("record-id", record.ID),
			zap.Int("retry-count", record.RetryCount+1),
			zap.Time("next-attempt-at", nextAttempt))
		return false
	}
}

func (r *Relay) failRecord(ctx context.Context, record Record, reason string) {
	if err := r.store.MarkFailed(ctx, record.ID, record.ClaimToken, reason); err != nil {
		if !errors.Is(err, ErrClaimConflict) {
			r.log.Error("failed to mark record failed", zap.String("record-id", record.ID), zap.Error(err))
		}
		return
	}
	if err := r.router.Route(ctx, record, reason); err != nil {
		// The record is already FAILED, re-routing happens on the next
		// operator replay rather than automatically.
		r.log.Error("failed to dead-letter record", zap.String("record-id", record.ID), zap.Error(err))
	}
}

func (r *Relay) releaseRest(ctx context.Context, rest []Record) {
	for _, record := range rest {
		if err := r.store.Release(ctx, record.ID, record.ClaimToken); err != nil && !errors.Is(err, ErrClaimConflict) {
			r.log.Error("failed to release claimed record", zap.String("record-id", record.ID), zap.Error(err))
		}
	}
}

// backoffDelay grows exponentially with the retry count, capped and jittered
// so retries of many records do not align into bursts.
func (r *Relay) backoffDelay(retryCount int) time.Duration {
	delay := float64(r.conf.BackoffBase) * math.Pow(r.conf.BackoffFactor, float64(retryCount))
	if capped := float64(r.conf.BackoffCap); delay > capped {
		delay = capped
	}
	if r.conf.BackoffJitter > 0 {
		spread := 1 + r.conf.BackoffJitter*(2*rand.Float64()-1)
		delay *= spread
	}
	return time.Duration(delay)
}
