package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/delivery"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
)

// Router moves failed records to the dead-letter store and replays them on
// operator request. Routing is idempotent on the record id, a crash between
// MarkFailed and Route only repeats the copy.
type Router interface {
	Route(ctx context.Context, record Record, reason string) error

	// Requeue resets a dead-lettered record to PENDING with a fresh retry
	// budget and removes the dead-letter copy.
	Requeue(ctx context.Context, id string) error
}

type deadLetterRouter struct {
	collection mongo.Collection
	client     delivery.Client
	store      Store
	conf       Config
	now        func() time.Time
}

// NewRouter creates a mongo-backed dead-letter router. When a dead-letter
// topic is configured, each routed record also emits a broker notification.
func NewRouter(m mongo.Mongo, client delivery.Client, store Store, conf Config) Router {
	return &deadLetterRouter{
		collection: m.GetCollection(conf.DeadLetterCollection),
		client:     client,
		store:      store,
		conf:       conf,
		now:        time.Now,
	}
}

func (r *deadLetterRouter) Requeue(ctx context.Context, id string) error {
	if err := r.store.Requeue(ctx, id); err != nil {
		return err
	}

	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("record %s requeued but dead-letter copy remains: %w", id, err)
	}

	logger.Get(ctx).Info("requeued dead-lettered record", zap.String("record-id", id))
	return nil
}

func (r *deadLetterRouter) Route(ctx context.Context, record Record, reason string) error {
	entry := DeadLetter{
		ID:            record.ID,
		AggregateType: record.AggregateType,
		AggregateID:   record.AggregateID,
		EventType:     record.EventType,
		Topic:         record.Topic,
		Key:           record.Key,
		Payload:       record.Payload,
		Headers:       record.Headers,
		RetryCount:    record.RetryCount,
		Reason:        reason,
		FailedAt:      r.now().UTC(),
		CreatedAt:     record.CreatedAt,
	}

	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			logger.Get(ctx).Debug("record already dead-lettered", zap.String("record-id", record.ID))
			return nil
		}
		return fmt.Errorf("failed to dead-letter record %s: %w", record.ID, err)
	}

	logger.Get(ctx).Warn("routed record to dead letter",
		zap.String("record-id", record.ID),
		zap.String("event-type", record.EventType),
		zap.String("reason", reason))

	r.notify(ctx, entry)
	return nil
}

// notify is best-effort, the persisted copy is the source of truth and the
// notification topic may be down for the same reason the record failed.
func (r *deadLetterRouter) notify(ctx context.Context, entry DeadLetter) {
	if r.conf.DeadLetterTopic == "" {
		return
	}

	body, err := json.Marshal(deadLetterNotification{
		RecordID:      entry.ID,
		AggregateType: entry.AggregateType,
		AggregateID:   entry.AggregateID,
		EventType:     entry.EventType,
		Topic:         entry.Topic,
		RetryCount:    entry.RetryCount,
		Reason:        entry.Reason,
		FailedAt:      entry.FailedAt,
	})
	if err != nil {
		logger.Get(ctx).Error("failed to marshal dead-letter notification", zap.Error(err))
		return
	}

	msg := delivery.Message{
		ID:      entry.ID,
		Topic:   r.conf.DeadLetterTopic,
		Key:     entry.Key,
		Headers: entry.Headers,
		Value:   body,
	}
	if err := r.client.Publish(ctx, msg); err != nil {
		logger.Get(ctx).Warn("failed to publish dead-letter notification",
			zap.String("record-id", entry.ID),
			zap.Error(err))
	}
}

type deadLetterNotification struct {
	RecordID      string    `json:"record_id"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   string    `json:"aggregate_id"`
	EventType     string    `json:"event_type"`
	Topic         string    `json:"topic"`
	RetryCount    int       `json:"retry_count"`
	Reason        string    `json:"reason"`
	FailedAt      time.Time `json:"failed_at"`
}
