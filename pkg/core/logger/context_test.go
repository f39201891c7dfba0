package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestGet(t *testing.T) {
	t.Run("returns logger from context", func(t *testing.T) {
		log := zap.NewNop()
		ctx := With(context.Background(), log)

		assert.Same(t, log, Get(ctx))
	})

	t.Run("returns global logger when context has none", func(t *testing.T) {
		assert.NotNil(t, Get(context.Background()))
	})

	t.Run("tolerates nil context", func(t *testing.T) {
		assert.NotNil(t, Get(nil)) //nolint:staticcheck // nil context is the case under test
	})
}

func TestWith(t *testing.T) {
	t.Run("attaches logger to nil context", func(t *testing.T) {
		log := zap.NewNop()
		ctx := With(nil, log) //nolint:staticcheck // nil context is the case under test

		assert.Same(t, log, Get(ctx))
	})

	t.Run("inner logger shadows outer", func(t *testing.T) {
		outer := zap.NewNop()
		inner := zap.NewNop()

		ctx := With(context.Background(), outer)
		ctx = With(ctx, inner)

		assert.Same(t, inner, Get(ctx))
	})
}
