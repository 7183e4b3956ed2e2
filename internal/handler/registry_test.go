package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegistry(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))

	noop := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return "first", nil
	}
	registry.Register("noop", noop)

	t.Run("Resolve", func(t *testing.T) {
		fn, ok := registry.Resolve("noop")
		require.True(t, ok)

		result, err := fn(context.Background(), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "first", result)
	})

	t.Run("ResolveUnknown", func(t *testing.T) {
		_, ok := registry.Resolve("missing")
		assert.False(t, ok)
	})

	t.Run("RegisterReplaces", func(t *testing.T) {
		registry.Register("noop", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			return "second", nil
		})

		fn, ok := registry.Resolve("noop")
		require.True(t, ok)
		result, err := fn(context.Background(), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "second", result)
	})

	t.Run("NamesAreSorted", func(t *testing.T) {
		registry.Register("zeta", noop)
		registry.Register("alpha", noop)

		assert.Equal(t, []string{"alpha", "noop", "zeta"}, registry.Names())
	})
}

func TestDecodePayload(t *testing.T) {
	type payload struct {
		Command string   `json:"command"`
		Args    []string `json:"args"`
		Retries int      `json:"retries"`
	}

	var p payload
	err := decodePayload(map[string]any{
		"command": "ls",
		"args":    []any{"-l", "/tmp"},
		"retries": float64(2),
	}, &p)
	require.NoError(t, err)
	assert.Equal(t, "ls", p.Command)
	assert.Equal(t, []string{"-l", "/tmp"}, p.Args)
	assert.Equal(t, 2, p.Retries)
}
