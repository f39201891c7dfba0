package inbox

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/events"
)

// HandleFunc processes one decoded event. Return ErrPermanent (wrapped) for
// failures a redelivery cannot fix, any other error triggers redelivery.
type HandleFunc func(ctx context.Context, envelope events.Envelope) error

// Handler runs a HandleFunc behind the idempotency guard. Plug its Handle
// method into the broker consumer loop.
type Handler struct {
	consumer string
	guard    Guard
	handle   HandleFunc
}

// NewHandler wraps handle for the named consumer. The consumer name
// partitions the dedup space, two consumers each process the same event once.
func NewHandler(consumer string, guard Guard, handle HandleFunc) *Handler {
	return &Handler{
		consumer: consumer,
		guard:    guard,
		handle:   handle,
	}
}

// Handle decodes the envelope, consults the guard and runs the handler.
// A nil return means the message may be acknowledged.
func (h *Handler) Handle(ctx context.Context, data []byte) error {
	envelope, err := events.Unmarshal(data)
	if err != nil {
		// Undecodable messages never become processable, ack and drop.
		logger.Get(ctx).Error("dropping undecodable event", zap.Error(err))
		return nil
	}

	log := logger.Get(ctx).With(
		zap.String("event-id", envelope.EventID),
		zap.String("event-type", envelope.EventType),
		zap.String("consumer", h.consumer))
	ctx = logger.With(ctx, log)

	decision, err := h.guard.Begin(ctx, h.consumer, envelope.EventID)
	if err != nil {
		return fmt.Errorf("idempotency check of event %s failed: %w", envelope.EventID, err)
	}

	switch decision {
	case DecisionSkip:
		log.Debug("skipping duplicate event")
		return nil
	case DecisionInFlight:
		return fmt.Errorf("event %s: %w", envelope.EventID, ErrInFlight)
	}

	if err := h.handle(ctx, envelope); err != nil {
		if failErr := h.guard.Fail(ctx, h.consumer, envelope.EventID, err); failErr != nil {
			log.Error("failed to record handler failure", zap.Error(failErr))
		}
		if errors.Is(err, ErrPermanent) {
			log.Error("event failed permanently", zap.Error(err))
			return nil
		}
		return fmt.Errorf("failed to process event %s: %w", envelope.EventID, err)
	}

	if err := h.guard.Complete(ctx, h.consumer, envelope.EventID); err != nil {
		// The handler ran but the record still says IN_FLIGHT. After the
		// lease expires a redelivery runs the handler again, which is the
		// at-least-once contract handlers sign up for.
		return fmt.Errorf("failed to record completion of event %s: %w", envelope.EventID, err)
	}

	log.Debug("event processed")
	return nil
}
