package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
)

// Store persists processing records. Insert uniqueness on the idempotency
// key is what makes the guard safe under concurrent redelivery.
type Store interface {
	// Insert creates an IN_FLIGHT record, ErrAlreadyTracked when the key
	// is already present.
	Insert(ctx context.Context, record ProcessingRecord) error

	Find(ctx context.Context, consumer, eventID string) (ProcessingRecord, error)

	// TakeOver renews an expired IN_FLIGHT lease. Reports false when the
	// lease is live or the record moved on, losing a takeover race included.
	TakeOver(ctx context.Context, consumer, eventID string, leaseUntil time.Time) (bool, error)

	MarkProcessed(ctx context.Context, consumer, eventID string) error

	MarkFailed(ctx context.Context, consumer, eventID, lastError string) error

	// Delete removes the record so a later redelivery can run the handler
	// again. Used after transient failures.
	Delete(ctx context.Context, consumer, eventID string) error
}

type mongoStore struct {
	collection mongo.Collection
	now        func() time.Time
}

// NewStore creates a mongo-backed inbox store.
func NewStore(m mongo.Mongo, conf Config) Store {
	return &mongoStore{
		collection: m.GetCollection(conf.Collection),
		now:        time.Now,
	}
}

func (s *mongoStore) Insert(ctx context.Context, record ProcessingRecord) error {
	if _, err := s.collection.InsertOne(ctx, record); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("record %s: %w", record.ID, ErrAlreadyTracked)
		}
		return fmt.Errorf("failed to insert processing record %s: %w", record.ID, err)
	}
	return nil
}

func (s *mongoStore) Find(ctx context.Context, consumer, eventID string) (ProcessingRecord, error) {
	var record ProcessingRecord
	err := s.collection.FindOne(ctx, bson.M{"_id": RecordID(consumer, eventID)}).Decode(&record)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return ProcessingRecord{}, persistence.ErrEntityNotFound
	}
	if err != nil {
		return ProcessingRecord{}, fmt.Errorf("failed to find processing record: %w", err)
	}
	return record, nil
}

func (s *mongoStore) TakeOver(ctx context.Context, consumer, eventID string, leaseUntil time.Time) (bool, error) {
	filter := bson.M{
		"_id":            RecordID(consumer, eventID),
		"status":         StatusInFlight,
		"leaseExpiresAt": bson.M{"$lt": s.now().UTC()},
	}
	update := bson.M{
		"$set": bson.M{"leaseExpiresAt": leaseUntil.UTC()},
		"$inc": bson.M{"attempts": 1},
	}

	result, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to take over processing record: %w", err)
	}
	return result.MatchedCount > 0, nil
}

func (s *mongoStore) MarkProcessed(ctx context.Context, consumer, eventID string) error {
	now := s.now().UTC()
	update := bson.M{
		"$set":   bson.M{"status": StatusProcessed, "processedAt": now},
		"$unset": bson.M{"lastError": ""},
	}

	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": RecordID(consumer, eventID)}, update)
	if err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", eventID, err)
	}
	if result.MatchedCount == 0 {
		return persistence.ErrEntityNotFound
	}
	return nil
}

func (s *mongoStore) MarkFailed(ctx context.Context, consumer, eventID, lastError string) error {
	update := bson.M{
		"$set": bson.M{"status": StatusFailed, "lastError": lastError},
	}

	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": RecordID(consumer, eventID)}, update)
	if err != nil {
		return fmt.Errorf("failed to mark event %s failed: %w", eventID, err)
	}
	if result.MatchedCount == 0 {
		return persistence.ErrEntityNotFound
	}
	return nil
}

func (s *mongoStore) Delete(ctx context.Context, consumer, eventID string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": RecordID(consumer, eventID)}); err != nil {
		return fmt.Errorf("failed to delete processing record of event %s: %w", eventID, err)
	}
	return nil
}

// EnsureIndexes creates the inbox TTL index. The _id uniqueness that the
// dedup relies on needs no extra index.
func EnsureIndexes(ctx context.Context, m mongo.Mongo, conf Config) error {
	if conf.ProcessedTTL <= 0 {
		return nil
	}

	indexes := []mongodriver.IndexModel{
		{
			Keys: bson.D{{Key: "processedAt", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(conf.ProcessedTTL / time.Second)).
				SetPartialFilterExpression(bson.M{"status": StatusProcessed}),
		},
	}

	if _, err := m.GetCollection(conf.Collection).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create inbox indexes: %w", err)
	}
	return nil
}
