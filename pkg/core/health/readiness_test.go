package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReadiness(t *testing.T) {
	t.Run("not ready until all components are ready", func(t *testing.T) {
		r := newReadiness(zap.NewNop())

		markA := r.AddComponent("store")
		markB := r.AddComponent("producer")

		assert.False(t, r.IsReady())
		markA()
		assert.False(t, r.IsReady())
		markB()
		assert.True(t, r.IsReady())
	})

	t.Run("marking twice is harmless", func(t *testing.T) {
		r := newReadiness(zap.NewNop())

		mark := r.AddComponent("store")
		mark()
		mark()

		assert.True(t, r.IsReady())
	})

	t.Run("WaitReady unblocks when ready", func(t *testing.T) {
		r := newReadiness(zap.NewNop())
		mark := r.AddComponent("store")

		done := make(chan error, 1)
		go func() {
			done <- r.WaitReady(context.Background())
		}()

		mark()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("WaitReady did not unblock")
		}
	})

	t.Run("WaitReady honors cancellation", func(t *testing.T) {
		r := newReadiness(zap.NewNop())
		r.AddComponent("store")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, r.WaitReady(ctx), context.Canceled)
	})

	t.Run("reports component statuses", func(t *testing.T) {
		r := newReadiness(zap.NewNop())
		mark := r.AddComponent("store")
		r.AddComponent("producer")
		mark()

		statuses := r.Components()
		require.Len(t, statuses, 2)

		byName := map[string]bool{}
		for _, s := range statuses {
			byName[s.Name] = s.Ready
		}
		assert.True(t, byName["store"])
		assert.False(t, byName["producer"])
	})
}
