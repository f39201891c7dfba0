package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
)

// Decision is the guard's verdict on an incoming event.
type Decision int

const (
	// DecisionProceed lets the handler run, the guard holds the lease.
	DecisionProceed Decision = iota
	// DecisionSkip means the event already reached a terminal state here.
	DecisionSkip
	// DecisionInFlight means another consumer instance holds a live lease.
	DecisionInFlight
)

func (d Decision) String() string {
	switch d {
	case DecisionProceed:
		return "proceed"
	case DecisionSkip:
		return "skip"
	case DecisionInFlight:
		return "in-flight"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Guard implements exactly-once processing effects on top of at-least-once
// delivery. Begin before the handler, Complete or Fail after.
type Guard interface {
	Begin(ctx context.Context, consumer, eventID string) (Decision, error)

	Complete(ctx context.Context, consumer, eventID string) error

	// Fail records the failure. Transient failures release the key so a
	// redelivery retries the handler, permanent ones pin it to FAILED.
	Fail(ctx context.Context, consumer, eventID string, cause error) error
}

type guard struct {
	store Store
	conf  Config
	now   func() time.Time
}

// NewGuard creates the idempotency guard.
func NewGuard(store Store, conf Config) Guard {
	return &guard{
		store: store,
		conf:  conf,
		now:   time.Now,
	}
}

func (g *guard) Begin(ctx context.Context, consumer, eventID string) (Decision, error) {
	now := g.now().UTC()
	record := ProcessingRecord{
		ID:             RecordID(consumer, eventID),
		Consumer:       consumer,
		EventID:        eventID,
		Status:         StatusInFlight,
		Attempts:       1,
		LeaseExpiresAt: now.Add(g.conf.LeaseDuration),
		CreatedAt:      now,
	}

	err := g.store.Insert(ctx, record)
	if err == nil {
		return DecisionProceed, nil
	}
	if !errors.Is(err, ErrAlreadyTracked) {
		return DecisionSkip, err
	}

	existing, err := g.store.Find(ctx, consumer, eventID)
	if errors.Is(err, persistence.ErrEntityNotFound) {
		// The record vanished between insert and lookup, e.g. a transient
		// failure released it. Let the redelivery start over.
		return DecisionInFlight, nil
	}
	if err != nil {
		return DecisionSkip, err
	}

	switch existing.Status {
	case StatusProcessed, StatusFailed:
		return DecisionSkip, nil
	case StatusInFlight:
		if existing.LeaseExpiresAt.After(now) {
			return DecisionInFlight, nil
		}
		// Expired lease: the previous holder crashed mid-handler. Exactly
		// one redelivery wins the takeover CAS.
		taken, err := g.store.TakeOver(ctx, consumer, eventID, now.Add(g.conf.LeaseDuration))
		if err != nil {
			return DecisionSkip, err
		}
		if !taken {
			return DecisionInFlight, nil
		}
		return DecisionProceed, nil
	default:
		return DecisionSkip, fmt.Errorf("processing record %s has unknown status %q", existing.ID, existing.Status)
	}
}

func (g *guard) Complete(ctx context.Context, consumer, eventID string) error {
	return g.store.MarkProcessed(ctx, consumer, eventID)
}

func (g *guard) Fail(ctx context.Context, consumer, eventID string, cause error) error {
	if errors.Is(cause, ErrPermanent) {
		return g.store.MarkFailed(ctx, consumer, eventID, cause.Error())
	}
	return g.store.Delete(ctx, consumer, eventID)
}
