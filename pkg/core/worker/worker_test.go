package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadinessWaiter struct {
	readyChan chan struct{}
}

func newMockReadinessWaiter() *mockReadinessWaiter {
	return &mockReadinessWaiter{readyChan: make(chan struct{})}
}

func (m *mockReadinessWaiter) WaitReady(ctx context.Context) error {
	select {
	case <-m.readyChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockReadinessWaiter) markReady() {
	select {
	case <-m.readyChan:
	default:
		close(m.readyChan)
	}
}

type mockShutdowner struct {
	called atomic.Bool
}

func (m *mockShutdowner) Shutdown(opts ...fx.ShutdownOption) error {
	m.called.Store(true)
	return nil
}

type mockLifecycle struct {
	hooks []fx.Hook
}

func (m *mockLifecycle) Append(hook fx.Hook) {
	m.hooks = append(m.hooks, hook)
}

func TestBaseWorker_StartStop(t *testing.T) {
	t.Run("runs function and stops on cancellation", func(t *testing.T) {
		started := make(chan struct{})
		stopped := make(chan struct{})

		w := &baseWorker{
			name: "test-worker",
			log:  zap.NewNop(),
			runFunc: func(ctx context.Context) error {
				close(started)
				<-ctx.Done()
				close(stopped)
				return nil
			},
		}

		w.Start()

		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("run function was not executed")
		}

		w.Stop()

		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("worker did not stop")
		}
	})

	t.Run("stop without start does not panic", func(t *testing.T) {
		w := &baseWorker{name: "test-worker", log: zap.NewNop()}

		assert.NotPanics(t, w.Stop)
	})
}

func TestBaseWorker_WaitReady(t *testing.T) {
	t.Run("waits for readiness before running", func(t *testing.T) {
		readiness := newMockReadinessWaiter()
		executed := atomic.Bool{}

		w := &baseWorker{
			name: "test-worker",
			log:  zap.NewNop(),
			runFunc: func(ctx context.Context) error {
				executed.Store(true)
				<-ctx.Done()
				return nil
			},
			readiness: readiness,
			options:   Options{WaitReady: true},
		}

		w.Start()
		time.Sleep(50 * time.Millisecond)
		assert.False(t, executed.Load(), "run function should not have executed yet")

		readiness.markReady()
		time.Sleep(50 * time.Millisecond)
		assert.True(t, executed.Load(), "run function should have executed")

		w.Stop()
	})

	t.Run("stops cleanly if cancelled while waiting", func(t *testing.T) {
		readiness := newMockReadinessWaiter()
		executed := atomic.Bool{}

		w := &baseWorker{
			name: "test-worker",
			log:  zap.NewNop(),
			runFunc: func(ctx context.Context) error {
				executed.Store(true)
				return nil
			},
			readiness: readiness,
			options:   Options{WaitReady: true},
		}

		w.Start()
		time.Sleep(50 * time.Millisecond)
		w.Stop()

		assert.False(t, executed.Load())
	})
}

func TestBaseWorker_ShutdownOnError(t *testing.T) {
	t.Run("fatal error triggers shutdown", func(t *testing.T) {
		shutdowner := &mockShutdowner{}

		w := &baseWorker{
			name: "test-worker",
			log:  zap.NewNop(),
			runFunc: func(ctx context.Context) error {
				return errors.New("fatal error")
			},
			shutdowner: shutdowner,
			options:    Options{ShutdownOnError: true},
		}

		w.Start()
		w.Stop()

		assert.True(t, shutdowner.called.Load())
	})

	t.Run("clean exit does not trigger shutdown", func(t *testing.T) {
		shutdowner := &mockShutdowner{}

		w := &baseWorker{
			name: "test-worker",
			log:  zap.NewNop(),
			runFunc: func(ctx context.Context) error {
				return nil
			},
			shutdowner: shutdowner,
			options:    Options{ShutdownOnError: true},
		}

		w.Start()
		w.Stop()

		assert.False(t, shutdowner.called.Load())
	})

	t.Run("error without option is only logged", func(t *testing.T) {
		shutdowner := &mockShutdowner{}

		w := &baseWorker{
			name: "test-worker",
			log:  zap.NewNop(),
			runFunc: func(ctx context.Context) error {
				return errors.New("non-fatal error")
			},
			shutdowner: shutdowner,
		}

		w.Start()
		w.Stop()

		assert.False(t, shutdowner.called.Load())
	})
}

func TestRegisterWorker(t *testing.T) {
	t.Run("registers start and stop hooks", func(t *testing.T) {
		started := atomic.Bool{}
		stopped := atomic.Bool{}

		w := &baseWorker{
			name: "test-worker",
			log:  zap.NewNop(),
			runFunc: func(ctx context.Context) error {
				started.Store(true)
				<-ctx.Done()
				stopped.Store(true)
				return nil
			},
		}

		lc := &mockLifecycle{}
		registerWorker(lc, w)
		require.Len(t, lc.hooks, 1)

		require.NoError(t, lc.hooks[0].OnStart(context.Background()))
		time.Sleep(50 * time.Millisecond)
		assert.True(t, started.Load())

		require.NoError(t, lc.hooks[0].OnStop(context.Background()))
		assert.True(t, stopped.Load())
	})
}
