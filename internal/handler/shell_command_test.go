package handler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestShellCommandHandler(t *testing.T) {
	h := NewShellCommandHandler(zaptest.NewLogger(t))
	ctx := context.Background()

	t.Run("CapturesOutput", func(t *testing.T) {
		result, err := h.Handle(ctx, nil, map[string]any{
			"command": "echo",
			"args":    []any{"hello"},
		})
		require.NoError(t, err)
		assert.Equal(t, "hello", strings.TrimSpace(result.(string)))
	})

	t.Run("PassesEnvironment", func(t *testing.T) {
		result, err := h.Handle(ctx, nil, map[string]any{
			"command": "sh",
			"args":    []any{"-c", "echo $GREETING"},
			"env":     map[string]any{"GREETING": "hi there"},
		})
		require.NoError(t, err)
		assert.Equal(t, "hi there", strings.TrimSpace(result.(string)))
	})

	t.Run("MissingCommand", func(t *testing.T) {
		_, err := h.Handle(ctx, nil, map[string]any{})
		assert.ErrorContains(t, err, "command is required")
	})

	t.Run("NonZeroExit", func(t *testing.T) {
		_, err := h.Handle(ctx, nil, map[string]any{
			"command": "sh",
			"args":    []any{"-c", "echo oops >&2; exit 3"},
		})
		require.Error(t, err)
		assert.ErrorContains(t, err, "oops")
	})

	t.Run("DeadlineKillsProcess", func(t *testing.T) {
		deadlineCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		_, err := h.Handle(deadlineCtx, nil, map[string]any{
			"command": "sleep",
			"args":    []any{"10"},
		})
		require.Error(t, err)
		assert.ErrorContains(t, err, "timed out")
	})
}
