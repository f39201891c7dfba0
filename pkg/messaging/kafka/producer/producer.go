// Package producer provides the shared kafka producer and its lifecycle.
package producer

import (
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/config"
)

// Producer is the subset of the confluent producer used by publishers.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	Flush(timeoutMs int) int
	Close()
}

func newProducer(conf config.Config) (Producer, error) {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":  conf.Brokers,
		"client.id":          conf.ClientID,
		"acks":               conf.Acks,
		"enable.idempotence": conf.EnableIdempotence,
	}

	p, err := kafka.NewProducer(cm)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return p, nil
}
