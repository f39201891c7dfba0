package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/events"
)

type stubTxChecker struct {
	inTransaction bool
}

func (s stubTxChecker) InTransaction(ctx context.Context) bool { return s.inTransaction }

type writerStore struct {
	Store
	inserted  []Record
	insertErr error
}

func (s *writerStore) Insert(ctx context.Context, records ...Record) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, records...)
	return nil
}

func newTestWriter(store *writerStore, inTx bool) (Writer, Notifier) {
	notifier := NewNotifier()
	populator := events.NewMetadataPopulator("order-service")
	return NewWriter(store, stubTxChecker{inTransaction: inTx}, populator, notifier), notifier
}

func TestWriter_Enqueue(t *testing.T) {
	msg := Message{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     "OrderCreated",
		Payload:       map[string]string{"order_id": "order-1"},
	}

	t.Run("rejects calls outside a transaction", func(t *testing.T) {
		store := &writerStore{}
		w, _ := newTestWriter(store, false)

		err := w.Enqueue(context.Background(), msg)

		assert.ErrorIs(t, err, ErrNotInTransaction)
		assert.Empty(t, store.inserted)
	})

	t.Run("stages a pending record with envelope payload", func(t *testing.T) {
		store := &writerStore{}
		w, notifier := newTestWriter(store, true)

		err := w.Enqueue(context.Background(), msg)

		require.NoError(t, err)
		require.Len(t, store.inserted, 1)
		record := store.inserted[0]
		assert.Equal(t, StatusPending, record.Status)
		assert.Equal(t, 0, record.RetryCount)
		assert.Equal(t, "order", record.AggregateType)
		assert.Equal(t, "order", record.Topic, "topic defaults to the aggregate type")
		assert.Equal(t, record.ID, record.Key, "key defaults to the event id")
		assert.NotEmpty(t, record.ID)
		assert.Equal(t, record.CreatedAt, record.NextAttemptAt)

		envelope, err := events.Unmarshal(record.Payload)
		require.NoError(t, err)
		assert.Equal(t, record.ID, envelope.EventID, "record id matches the envelope event id")
		assert.Equal(t, "OrderCreated", envelope.EventType)
		assert.Equal(t, "order-service", envelope.Source)

		select {
		case <-notifier.C():
		default:
			t.Fatal("expected a wake signal after staging")
		}
	})

	t.Run("honors explicit topic and key", func(t *testing.T) {
		store := &writerStore{}
		w, _ := newTestWriter(store, true)

		custom := msg
		custom.Topic = "order-events"
		custom.Key = "tenant-7"

		require.NoError(t, w.Enqueue(context.Background(), custom))
		require.Len(t, store.inserted, 1)
		assert.Equal(t, "order-events", store.inserted[0].Topic)
		assert.Equal(t, "tenant-7", store.inserted[0].Key)
	})

	t.Run("keeps creation order of a batch observable", func(t *testing.T) {
		store := &writerStore{}
		w, _ := newTestWriter(store, true)

		second := msg
		second.EventType = "OrderPaid"

		require.NoError(t, w.Enqueue(context.Background(), msg, second))
		require.Len(t, store.inserted, 2)
		assert.True(t, store.inserted[0].CreatedAt.Before(store.inserted[1].CreatedAt))
		assert.GreaterOrEqual(t,
			store.inserted[1].CreatedAt.Sub(store.inserted[0].CreatedAt),
			time.Millisecond)
	})

	t.Run("rejects messages without aggregate identity", func(t *testing.T) {
		store := &writerStore{}
		w, _ := newTestWriter(store, true)

		err := w.Enqueue(context.Background(), Message{EventType: "OrderCreated"})

		assert.Error(t, err)
		assert.Empty(t, store.inserted)
	})

	t.Run("propagates store failures", func(t *testing.T) {
		store := &writerStore{insertErr: errors.New("write conflict")}
		w, _ := newTestWriter(store, true)

		err := w.Enqueue(context.Background(), msg)

		assert.ErrorContains(t, err, "write conflict")
	})

	t.Run("no-op without messages", func(t *testing.T) {
		store := &writerStore{}
		w, _ := newTestWriter(store, false)

		assert.NoError(t, w.Enqueue(context.Background()))
	})
}
