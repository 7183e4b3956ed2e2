package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDataProcessingHandler(t *testing.T) {
	h := NewDataProcessingHandler(zaptest.NewLogger(t))
	ctx := context.Background()

	run := func(t *testing.T, kwargs map[string]any) any {
		t.Helper()
		result, err := h.Handle(ctx, nil, kwargs)
		require.NoError(t, err)
		return result
	}

	t.Run("Filter", func(t *testing.T) {
		result := run(t, map[string]any{
			"operation":  "filter",
			"input_data": []any{1.0, 5.0, 10.0, 20.0},
			"parameters": map[string]any{"min": 2.0, "max": 15.0},
		})
		assert.Equal(t, []float64{5, 10}, result)
	})

	t.Run("FilterMinOnly", func(t *testing.T) {
		result := run(t, map[string]any{
			"operation":  "filter",
			"input_data": []any{1.0, 5.0, 10.0},
			"parameters": map[string]any{"min": 4.0},
		})
		assert.Equal(t, []float64{5, 10}, result)
	})

	t.Run("Transform", func(t *testing.T) {
		result := run(t, map[string]any{
			"operation":  "transform",
			"input_data": []any{1.0, 2.0, 3.0},
			"parameters": map[string]any{"scale": 2.0, "offset": 1.0},
		})
		assert.Equal(t, []float64{3, 5, 7}, result)
	})

	t.Run("Aggregate", func(t *testing.T) {
		result := run(t, map[string]any{
			"operation":  "aggregate",
			"input_data": []any{4.0, 2.0, 6.0},
		})
		stats, ok := result.(map[string]float64)
		require.True(t, ok)
		assert.Equal(t, 3.0, stats["count"])
		assert.Equal(t, 12.0, stats["sum"])
		assert.Equal(t, 4.0, stats["mean"])
		assert.Equal(t, 2.0, stats["min"])
		assert.Equal(t, 6.0, stats["max"])
	})

	t.Run("AggregateEmptyInput", func(t *testing.T) {
		result := run(t, map[string]any{"operation": "aggregate"})
		stats, ok := result.(map[string]float64)
		require.True(t, ok)
		assert.Equal(t, 0.0, stats["count"])
	})

	t.Run("UnknownOperation", func(t *testing.T) {
		_, err := h.Handle(ctx, nil, map[string]any{"operation": "shuffle"})
		assert.ErrorContains(t, err, "unknown operation")
	})
}
