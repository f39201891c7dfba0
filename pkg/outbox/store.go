package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
)

// Store persists outbox records and implements the claim protocol. Every
// state transition is a single-document compare-and-swap, so concurrent
// relays never need a coordinator.
type Store interface {
	// Insert stages records, it runs inside the caller's transaction context.
	Insert(ctx context.Context, records ...Record) error

	// ClaimBatch atomically moves up to limit due records to PUBLISHING under
	// a fresh lease and returns them oldest-first. Due means PENDING with
	// nextAttemptAt in the past, or PUBLISHING with an expired lease.
	ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]Record, error)

	// MarkPublished finishes a delivered record. Fails with ErrClaimConflict
	// when the claim token no longer holds the record.
	MarkPublished(ctx context.Context, id, claimToken string) error

	// ScheduleRetry returns a record to PENDING with an incremented retry
	// count and the given next attempt time.
	ScheduleRetry(ctx context.Context, id, claimToken string, nextAttempt time.Time, lastError string) error

	// MarkFailed moves a record to the terminal FAILED status.
	MarkFailed(ctx context.Context, id, claimToken string, lastError string) error

	// Release returns a claimed record to PENDING without consuming a retry.
	// Used when a record must wait for an earlier event of its aggregate.
	Release(ctx context.Context, id, claimToken string) error

	// HasEarlierPending reports whether the aggregate has an undelivered
	// record created before the given time, ignoring the listed ids.
	HasEarlierPending(ctx context.Context, aggregateType, aggregateID string, before time.Time, excludeIDs []string) (bool, error)

	// Requeue resets a FAILED record to PENDING with a fresh retry budget.
	// Operator-triggered, ErrEntityNotFound when the record is not FAILED.
	Requeue(ctx context.Context, id string) error
}

type mongoStore struct {
	collection mongo.Collection
	now        func() time.Time
}

// NewStore creates a mongo-backed outbox store.
func NewStore(m mongo.Mongo, conf Config) Store {
	return &mongoStore{
		collection: m.GetCollection(conf.Collection),
		now:        time.Now,
	}
}

func (s *mongoStore) Insert(ctx context.Context, records ...Record) error {
	for _, record := range records {
		if _, err := s.collection.InsertOne(ctx, record); err != nil {
			return fmt.Errorf("failed to insert outbox record %s: %w", record.ID, err)
		}
	}
	return nil
}

func (s *mongoStore) ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]Record, error) {
	claimed := make([]Record, 0, limit)

	for len(claimed) < limit {
		now := s.now().UTC()
		filter := bson.M{"$or": bson.A{
			bson.M{"status": StatusPending, "nextAttemptAt": bson.M{"$lte": now}},
			bson.M{"status": StatusPublishing, "claimExpiresAt": bson.M{"$lt": now}},
		}}
		update := bson.M{"$set": bson.M{
			"status":         StatusPublishing,
			"claimToken":     uuid.New().String(),
			"claimExpiresAt": now.Add(lease),
		}}
		opts := options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "createdAt", Value: 1}}).
			SetReturnDocument(options.After)

		var record Record
		err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&record)
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			break
		}
		if err != nil {
			return claimed, fmt.Errorf("failed to claim outbox record: %w", err)
		}
		claimed = append(claimed, record)
	}

	return claimed, nil
}

// claimFilter fences every confirmation on the claim token, a relay whose
// lease expired cannot overwrite a takeover.
func claimFilter(id, claimToken string) bson.M {
	return bson.M{
		"_id":        id,
		"claimToken": claimToken,
		"status":     StatusPublishing,
	}
}

func (s *mongoStore) MarkPublished(ctx context.Context, id, claimToken string) error {
	update := bson.M{
		"$set": bson.M{
			"status":      StatusPublished,
			"publishedAt": s.now().UTC(),
		},
		"$unset": bson.M{"claimToken": "", "claimExpiresAt": ""},
	}

	result, err := s.collection.UpdateOne(ctx, claimFilter(id, claimToken), update)
	if err != nil {
		return fmt.Errorf("failed to mark outbox record %s published: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("record %s: %w", id, ErrClaimConflict)
	}
	return nil
}

func (s *mongoStore) ScheduleRetry(ctx context.Context, id, claimToken string, nextAttempt time.Time, lastError string) error {
	update := bson.M{
		"$set": bson.M{
			"status":        StatusPending,
			"nextAttemptAt": nextAttempt.UTC(),
			"lastError":     lastError,
		},
		"$inc":   bson.M{"retryCount": 1},
		"$unset": bson.M{"claimToken": "", "claimExpiresAt": ""},
	}

	result, err := s.collection.UpdateOne(ctx, claimFilter(id, claimToken), update)
	if err != nil {
		return fmt.Errorf("failed to schedule retry of outbox record %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("record %s: %w", id, ErrClaimConflict)
	}
	return nil
}

func (s *mongoStore) MarkFailed(ctx context.Context, id, claimToken string, lastError string) error {
	update := bson.M{
		"$set": bson.M{
			"status":    StatusFailed,
			"lastError": lastError,
		},
		"$unset": bson.M{"claimToken": "", "claimExpiresAt": ""},
	}

	result, err := s.collection.UpdateOne(ctx, claimFilter(id, claimToken), update)
	if err != nil {
		return fmt.Errorf("failed to mark outbox record %s failed: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("record %s: %w", id, ErrClaimConflict)
	}
	return nil
}

func (s *mongoStore) Release(ctx context.Context, id, claimToken string) error {
	update := bson.M{
		"$set":   bson.M{"status": StatusPending},
		"$unset": bson.M{"claimToken": "", "claimExpiresAt": ""},
	}

	result, err := s.collection.UpdateOne(ctx, claimFilter(id, claimToken), update)
	if err != nil {
		return fmt.Errorf("failed to release outbox record %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("record %s: %w", id, ErrClaimConflict)
	}
	return nil
}

func (s *mongoStore) Requeue(ctx context.Context, id string) error {
	update := bson.M{
		"$set": bson.M{
			"status":        StatusPending,
			"retryCount":    0,
			"nextAttemptAt": s.now().UTC(),
		},
		"$unset": bson.M{"lastError": ""},
	}

	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": id, "status": StatusFailed}, update)
	if err != nil {
		return fmt.Errorf("failed to requeue outbox record %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("record %s is not failed: %w", id, persistence.ErrEntityNotFound)
	}
	return nil
}

func (s *mongoStore) HasEarlierPending(ctx context.Context, aggregateType, aggregateID string, before time.Time, excludeIDs []string) (bool, error) {
	filter := bson.M{
		"aggregateType": aggregateType,
		"aggregateId":   aggregateID,
		"createdAt":     bson.M{"$lt": before},
		"status":        bson.M{"$in": bson.A{StatusPending, StatusPublishing}},
	}
	if len(excludeIDs) > 0 {
		filter["_id"] = bson.M{"$nin": excludeIDs}
	}

	count, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("failed to count earlier records of %s/%s: %w", aggregateType, aggregateID, err)
	}
	return count > 0, nil
}
