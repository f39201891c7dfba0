package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
)

type fakeCollection struct {
	mongo.Collection

	findOneAndUpdateResults []*mongodriver.SingleResult
	findOneAndUpdateFilters []interface{}

	updateOneFilter  interface{}
	updateOneUpdate  interface{}
	updateOneMatched int64

	countFilter interface{}
	count       int64
}

func (c *fakeCollection) FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongodriver.SingleResult {
	c.findOneAndUpdateFilters = append(c.findOneAndUpdateFilters, filter)
	if len(c.findOneAndUpdateResults) == 0 {
		return mongodriver.NewSingleResultFromDocument(bson.D{}, mongodriver.ErrNoDocuments, nil)
	}
	result := c.findOneAndUpdateResults[0]
	c.findOneAndUpdateResults = c.findOneAndUpdateResults[1:]
	return result
}

func (c *fakeCollection) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	c.updateOneFilter = filter
	c.updateOneUpdate = update
	return &mongodriver.UpdateResult{MatchedCount: c.updateOneMatched, ModifiedCount: c.updateOneMatched}, nil
}

func (c *fakeCollection) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	c.countFilter = filter
	return c.count, nil
}

func newFakeStore(collection *fakeCollection) *mongoStore {
	return &mongoStore{
		collection: collection,
		now:        func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func claimedResult(id string) *mongodriver.SingleResult {
	return mongodriver.NewSingleResultFromDocument(Record{
		ID:         id,
		Status:     StatusPublishing,
		ClaimToken: "token-" + id,
	}, nil, nil)
}

func TestMongoStore_ClaimBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("claims until the store runs dry", func(t *testing.T) {
		collection := &fakeCollection{
			findOneAndUpdateResults: []*mongodriver.SingleResult{claimedResult("rec-1"), claimedResult("rec-2")},
		}
		store := newFakeStore(collection)

		claimed, err := store.ClaimBatch(ctx, 10, 30*time.Second)

		require.NoError(t, err)
		require.Len(t, claimed, 2)
		assert.Equal(t, "rec-1", claimed[0].ID)
		assert.Equal(t, "token-rec-1", claimed[0].ClaimToken)
		assert.Len(t, collection.findOneAndUpdateFilters, 3, "one extra call observes the empty store")
	})

	t.Run("stops at the batch limit", func(t *testing.T) {
		collection := &fakeCollection{
			findOneAndUpdateResults: []*mongodriver.SingleResult{claimedResult("rec-1"), claimedResult("rec-2")},
		}
		store := newFakeStore(collection)

		claimed, err := store.ClaimBatch(ctx, 1, 30*time.Second)

		require.NoError(t, err)
		assert.Len(t, claimed, 1)
		assert.Len(t, collection.findOneAndUpdateFilters, 1)
	})

	t.Run("claim filter targets due and lease-expired records", func(t *testing.T) {
		collection := &fakeCollection{}
		store := newFakeStore(collection)

		_, err := store.ClaimBatch(ctx, 1, 30*time.Second)

		require.NoError(t, err)
		require.Len(t, collection.findOneAndUpdateFilters, 1)
		filter, ok := collection.findOneAndUpdateFilters[0].(bson.M)
		require.True(t, ok)
		clauses, ok := filter["$or"].(bson.A)
		require.True(t, ok)
		require.Len(t, clauses, 2)
		assert.Equal(t, StatusPending, clauses[0].(bson.M)["status"])
		assert.Equal(t, StatusPublishing, clauses[1].(bson.M)["status"])
	})
}

func TestMongoStore_Confirmations(t *testing.T) {
	ctx := context.Background()

	t.Run("mark published fences on the claim token", func(t *testing.T) {
		collection := &fakeCollection{updateOneMatched: 1}
		store := newFakeStore(collection)

		err := store.MarkPublished(ctx, "rec-1", "token-1")

		require.NoError(t, err)
		filter, ok := collection.updateOneFilter.(bson.M)
		require.True(t, ok)
		assert.Equal(t, "rec-1", filter["_id"])
		assert.Equal(t, "token-1", filter["claimToken"])
		assert.Equal(t, StatusPublishing, filter["status"])
	})

	t.Run("lost claim surfaces as conflict", func(t *testing.T) {
		collection := &fakeCollection{updateOneMatched: 0}
		store := newFakeStore(collection)

		assert.ErrorIs(t, store.MarkPublished(ctx, "rec-1", "stale"), ErrClaimConflict)
		assert.ErrorIs(t, store.ScheduleRetry(ctx, "rec-1", "stale", time.Now(), "boom"), ErrClaimConflict)
		assert.ErrorIs(t, store.MarkFailed(ctx, "rec-1", "stale", "boom"), ErrClaimConflict)
		assert.ErrorIs(t, store.Release(ctx, "rec-1", "stale"), ErrClaimConflict)
	})

	t.Run("schedule retry increments the retry count", func(t *testing.T) {
		collection := &fakeCollection{updateOneMatched: 1}
		store := newFakeStore(collection)
		nextAttempt := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)

		err := store.ScheduleRetry(ctx, "rec-1", "token-1", nextAttempt, "broker down")

		require.NoError(t, err)
		update, ok := collection.updateOneUpdate.(bson.M)
		require.True(t, ok)
		assert.Equal(t, bson.M{"retryCount": 1}, update["$inc"])
		set := update["$set"].(bson.M)
		assert.Equal(t, StatusPending, set["status"])
		assert.Equal(t, nextAttempt, set["nextAttemptAt"])
		assert.Equal(t, "broker down", set["lastError"])
	})

	t.Run("requeue resets the retry budget of a failed record", func(t *testing.T) {
		collection := &fakeCollection{updateOneMatched: 1}
		store := newFakeStore(collection)

		err := store.Requeue(ctx, "rec-1")

		require.NoError(t, err)
		filter := collection.updateOneFilter.(bson.M)
		assert.Equal(t, StatusFailed, filter["status"])
		set := collection.updateOneUpdate.(bson.M)["$set"].(bson.M)
		assert.Equal(t, StatusPending, set["status"])
		assert.Equal(t, 0, set["retryCount"])
	})

	t.Run("requeue of a non-failed record reports not found", func(t *testing.T) {
		collection := &fakeCollection{updateOneMatched: 0}
		store := newFakeStore(collection)

		assert.Error(t, store.Requeue(ctx, "rec-1"))
	})

	t.Run("release does not consume a retry", func(t *testing.T) {
		collection := &fakeCollection{updateOneMatched: 1}
		store := newFakeStore(collection)

		err := store.Release(ctx, "rec-1", "token-1")

		require.NoError(t, err)
		update, ok := collection.updateOneUpdate.(bson.M)
		require.True(t, ok)
		assert.NotContains(t, update, "$inc")
	})
}

func TestMongoStore_HasEarlierPending(t *testing.T) {
	ctx := context.Background()
	before := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("counts undelivered records of the aggregate", func(t *testing.T) {
		collection := &fakeCollection{count: 1}
		store := newFakeStore(collection)

		blocked, err := store.HasEarlierPending(ctx, "order", "order-1", before, []string{"rec-2"})

		require.NoError(t, err)
		assert.True(t, blocked)
		filter, ok := collection.countFilter.(bson.M)
		require.True(t, ok)
		assert.Equal(t, "order", filter["aggregateType"])
		assert.Equal(t, "order-1", filter["aggregateId"])
		assert.Equal(t, bson.M{"$nin": []string{"rec-2"}}, filter["_id"])
	})

	t.Run("zero count means unblocked", func(t *testing.T) {
		collection := &fakeCollection{count: 0}
		store := newFakeStore(collection)

		blocked, err := store.HasEarlierPending(ctx, "order", "order-1", before, nil)

		require.NoError(t, err)
		assert.False(t, blocked)
	})
}
