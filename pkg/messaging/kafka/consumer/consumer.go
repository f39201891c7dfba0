package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	kafkaconfig "github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/config"
)

// MessageHandler processes one raw message. A nil return acknowledges it.
type MessageHandler interface {
	Handle(ctx context.Context, data []byte) error
}

// kafkaConsumer is the subset of the confluent consumer the loop uses.
type kafkaConsumer interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	Poll(timeoutMs int) kafka.Event
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Seek(partition kafka.TopicPartition, ignoredTimeoutMs int) error
	Close() error
}

// Consumer reads the subscribed topics and hands messages to the handler.
// Offsets commit only after the handler accepts a message, a transient
// failure re-reads the same offset after a pause so ordering holds.
type Consumer struct {
	consumer kafkaConsumer
	handler  MessageHandler
	conf     Config
	log      *zap.Logger
}

func NewConsumer(brokerConf kafkaconfig.Config, conf Config, handler MessageHandler, log *zap.Logger) (*Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  brokerConf.Brokers,
		"group.id":           conf.GroupID,
		"auto.offset.reset":  conf.AutoOffsetReset,
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{
		consumer: c,
		handler:  handler,
		conf:     conf,
		log:      log,
	}, nil
}

func (c *Consumer) Run(ctx context.Context) error {
	if err := c.consumer.SubscribeTopics(c.conf.Topics, nil); err != nil {
		return fmt.Errorf("failed to subscribe to %v: %w", c.conf.Topics, err)
	}
	defer func() {
		if err := c.consumer.Close(); err != nil {
			c.log.Error("failed to close kafka consumer", zap.Error(err))
		}
	}()

	ctx = logger.With(ctx, c.log)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		switch ev := c.consumer.Poll(int(c.conf.PollTimeout.Milliseconds())).(type) {
		case nil:
		case *kafka.Message:
			if err := c.handleMessage(ctx, ev); err != nil {
				return err
			}
		case kafka.Error:
			if ev.IsFatal() {
				return fmt.Errorf("fatal kafka consumer error: %w", ev)
			}
			c.log.Warn("kafka consumer error", zap.Error(ev))
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg *kafka.Message) error {
	log := c.log.With(
		zap.String("topic", derefTopic(msg)),
		zap.Int32("partition", msg.TopicPartition.Partition),
		zap.Int64("offset", int64(msg.TopicPartition.Offset)))
	msgCtx := logger.With(ctx, log)

	if err := c.handler.Handle(msgCtx, msg.Value); err != nil {
		log.Warn("handler rejected message, will retry", zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.conf.RetryBackoff):
		}

		if err := c.consumer.Seek(msg.TopicPartition, 0); err != nil {
			return fmt.Errorf("failed to rewind to retry offset: %w", err)
		}
		return nil
	}

	if _, err := c.consumer.CommitMessage(msg); err != nil {
		// The handler is idempotent behind the guard, re-reading after a
		// failed commit is safe.
		log.Warn("failed to commit offset", zap.Error(err))
	}
	return nil
}

func derefTopic(msg *kafka.Message) string {
	if msg.TopicPartition.Topic == nil {
		return ""
	}
	return *msg.TopicPartition.Topic
}
