package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
	"github.com/Sokol111/ecommerce-outbox/pkg/testutil/container"
)

// startStore spins up a real mongo and returns a store bound to a fresh
// collection. Skipped without Docker.
func startStore(t *testing.T) *mongoStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	mc, err := container.StartMongo(ctx)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = mc.Terminate(context.Background())
	})

	client, err := mongodriver.Connect(ctx, options.Client().ApplyURI(mc.URI))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	collection := mongo.NewCollectionWrapper(client.Database("outbox_test").Collection("outbox"), 5*time.Second)
	return &mongoStore{collection: collection, now: time.Now}
}

func pendingRecord(id, aggregateID string, createdAt time.Time) Record {
	return Record{
		ID:            id,
		AggregateType: "order",
		AggregateID:   aggregateID,
		EventType:     "OrderCreated",
		Topic:         "order",
		Key:           aggregateID,
		Payload:       []byte(`{"event_id":"` + id + `"}`),
		Status:        StatusPending,
		NextAttemptAt: createdAt,
		CreatedAt:     createdAt,
	}
}

func TestMongoStore_Lifecycle(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	require.NoError(t, store.Insert(ctx,
		pendingRecord("rec-1", "order-1", base),
		pendingRecord("rec-2", "order-1", base.Add(time.Second)),
		pendingRecord("rec-3", "order-2", base.Add(2*time.Second)),
	))

	t.Run("claims due records oldest first", func(t *testing.T) {
		claimed, err := store.ClaimBatch(ctx, 10, 30*time.Second)

		require.NoError(t, err)
		require.Len(t, claimed, 3)
		assert.Equal(t, "rec-1", claimed[0].ID)
		assert.Equal(t, StatusPublishing, claimed[0].Status)
		assert.NotEmpty(t, claimed[0].ClaimToken)

		t.Run("claimed records are invisible to a second claim", func(t *testing.T) {
			again, err := store.ClaimBatch(ctx, 10, 30*time.Second)
			require.NoError(t, err)
			assert.Empty(t, again)
		})

		t.Run("confirmations fence on the claim token", func(t *testing.T) {
			assert.ErrorIs(t, store.MarkPublished(ctx, claimed[0].ID, "stale-token"), ErrClaimConflict)
			require.NoError(t, store.MarkPublished(ctx, claimed[0].ID, claimed[0].ClaimToken))
			assert.ErrorIs(t, store.MarkPublished(ctx, claimed[0].ID, claimed[0].ClaimToken), ErrClaimConflict,
				"published records leave the claim protocol")
		})

		t.Run("retry goes back to pending with a bumped count", func(t *testing.T) {
			next := time.Now().UTC().Add(-time.Second).Truncate(time.Millisecond)
			require.NoError(t, store.ScheduleRetry(ctx, claimed[1].ID, claimed[1].ClaimToken, next, "broker down"))

			reclaimed, err := store.ClaimBatch(ctx, 1, 30*time.Second)
			require.NoError(t, err)
			require.Len(t, reclaimed, 1)
			assert.Equal(t, claimed[1].ID, reclaimed[0].ID)
			assert.Equal(t, 1, reclaimed[0].RetryCount)
			assert.Equal(t, "broker down", reclaimed[0].LastError)
			require.NoError(t, store.Release(ctx, reclaimed[0].ID, reclaimed[0].ClaimToken))
		})

		t.Run("earlier pending record blocks its aggregate", func(t *testing.T) {
			blocked, err := store.HasEarlierPending(ctx, "order", "order-1", base.Add(time.Second), nil)
			require.NoError(t, err)
			assert.False(t, blocked, "rec-1 is published and must not block")

			blocked, err = store.HasEarlierPending(ctx, "order", "order-1", base.Add(2*time.Second), nil)
			require.NoError(t, err)
			assert.True(t, blocked, "rec-2 is pending again and blocks later records")
		})

		t.Run("failed records stop blocking", func(t *testing.T) {
			taken, err := store.ClaimBatch(ctx, 10, 30*time.Second)
			require.NoError(t, err)
			rec2, found := findRecord(taken, claimed[1].ID)
			require.True(t, found)
			require.NoError(t, store.MarkFailed(ctx, rec2.ID, rec2.ClaimToken, "retry budget exhausted"))

			blocked, err := store.HasEarlierPending(ctx, "order", "order-1", base.Add(time.Hour), nil)
			require.NoError(t, err)
			assert.False(t, blocked)
		})

		t.Run("requeue restores a failed record with a fresh budget", func(t *testing.T) {
			require.NoError(t, store.Requeue(ctx, claimed[1].ID))

			reclaimed, err := store.ClaimBatch(ctx, 1, 30*time.Second)
			require.NoError(t, err)
			require.Len(t, reclaimed, 1)
			assert.Equal(t, claimed[1].ID, reclaimed[0].ID)
			assert.Equal(t, 0, reclaimed[0].RetryCount)
		})
	})
}

func TestMongoStore_LeaseExpiry(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, pendingRecord("rec-1", "order-1", time.Now().UTC().Add(-time.Minute))))

	claimed, err := store.ClaimBatch(ctx, 1, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Lease still live, the record stays invisible.
	again, err := store.ClaimBatch(ctx, 1, 50*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, again)

	time.Sleep(100 * time.Millisecond)

	takeover, err := store.ClaimBatch(ctx, 1, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, takeover, 1)
	assert.Equal(t, "rec-1", takeover[0].ID)
	assert.NotEqual(t, claimed[0].ClaimToken, takeover[0].ClaimToken)

	t.Run("the old token cannot confirm anymore", func(t *testing.T) {
		assert.ErrorIs(t, store.MarkPublished(ctx, "rec-1", claimed[0].ClaimToken), ErrClaimConflict)
		assert.NoError(t, store.MarkPublished(ctx, "rec-1", takeover[0].ClaimToken))
	})
}

func findRecord(records []Record, id string) (Record, bool) {
	for _, record := range records {
		if record.ID == id {
			return record, true
		}
	}
	return Record{}, false
}
