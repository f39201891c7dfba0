package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sony/gobreaker"
)

// ErrTransient marks failures worth retrying: broker unavailable, timeouts,
// full local queue, open circuit.
var ErrTransient = errors.New("transient delivery failure")

// ErrPermanent marks failures that will never succeed for this message, such
// as an oversized or malformed payload. Retrying them wastes the budget.
var ErrPermanent = errors.New("permanent delivery failure")

// Classify wraps err with ErrTransient or ErrPermanent so callers can branch
// with errors.Is. Already-classified errors pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrPermanent) {
		return err
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	var kafkaErr kafka.Error
	if errors.As(err, &kafkaErr) {
		if isPermanentKafkaCode(kafkaErr.Code()) {
			return fmt.Errorf("%w: %w", ErrPermanent, err)
		}
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	// Unknown errors are retried, the attempt budget bounds the damage.
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func isPermanentKafkaCode(code kafka.ErrorCode) bool {
	switch code {
	case kafka.ErrMsgSizeTooLarge,
		kafka.ErrInvalidMsg,
		kafka.ErrInvalidMsgSize,
		kafka.ErrInvalidArg,
		kafka.ErrTopicException,
		kafka.ErrUnknownTopicOrPart:
		return true
	default:
		return false
	}
}
