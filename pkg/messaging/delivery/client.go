package delivery

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/producer"
)

// Message is a single event to deliver. Key selects the broker partition, so
// messages sharing a key keep their relative order.
type Message struct {
	ID      string
	Topic   string
	Key     string
	Headers map[string]string
	Value   []byte
}

// Client publishes one message and reports the outcome synchronously.
// Returned errors are classified with ErrTransient or ErrPermanent.
type Client interface {
	Publish(ctx context.Context, msg Message) error
}

type kafkaClient struct {
	producer producer.Producer
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	conf     Config
	log      *zap.Logger
}

// NewClient wraps the shared producer with a circuit breaker and an optional
// rate limiter.
func NewClient(p producer.Producer, conf Config, log *zap.Logger) Client {
	var limiter *rate.Limiter
	if conf.RateLimit > 0 {
		burst := conf.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(conf.RateLimit), burst)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-delivery",
		MaxRequests: conf.BreakerMaxHalfOpenRequests,
		Timeout:     conf.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= conf.BreakerConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("delivery circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &kafkaClient{
		producer: p,
		breaker:  breaker,
		limiter:  limiter,
		conf:     conf,
		log:      log,
	}
}

func (c *kafkaClient) Publish(ctx context.Context, msg Message) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Classify(fmt.Errorf("rate limiter interrupted: %w", err))
		}
	}

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.publishOnce(ctx, msg)
	})
	if err != nil {
		return Classify(err)
	}
	return nil
}

// publishOnce produces the message and blocks on its delivery report, so the
// caller learns the broker acknowledged the write before the outbox record is
// marked published.
func (c *kafkaClient) publishOnce(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, c.conf.PublishTimeout)
	defer cancel()

	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	kafkaMsg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &msg.Topic, Partition: kafka.PartitionAny},
		Key:            []byte(msg.Key),
		Value:          msg.Value,
		Headers:        headers,
		Opaque:         msg.ID,
	}

	deliveryChan := make(chan kafka.Event, 1)
	if err := c.producer.Produce(kafkaMsg, deliveryChan); err != nil {
		return fmt.Errorf("failed to enqueue message %s: %w", msg.ID, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("delivery report for message %s not received: %w", msg.ID, ctx.Err())
	case ev := <-deliveryChan:
		report, ok := ev.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %T for message %s", ev, msg.ID)
		}
		if report.TopicPartition.Error != nil {
			return fmt.Errorf("broker rejected message %s: %w", msg.ID, report.TopicPartition.Error)
		}
		logger.Get(ctx).Debug("message delivered",
			zap.String("message-id", msg.ID),
			zap.String("topic", msg.Topic))
		return nil
	}
}
