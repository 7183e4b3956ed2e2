package handler

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFileOperationHandler(t *testing.T) {
	baseDir := t.TempDir()
	h := NewFileOperationHandler(zaptest.NewLogger(t), baseDir)
	ctx := context.Background()

	t.Run("WriteAndRead", func(t *testing.T) {
		content := base64.StdEncoding.EncodeToString([]byte("hello world"))
		_, err := h.Handle(ctx, nil, map[string]any{
			"operation":   "write",
			"source_path": "out/report.txt",
			"content":     content,
		})
		require.NoError(t, err)

		result, err := h.Handle(ctx, nil, map[string]any{
			"operation":   "read",
			"source_path": "out/report.txt",
		})
		require.NoError(t, err)
		assert.Equal(t, "hello world", result)
	})

	t.Run("Copy", func(t *testing.T) {
		_, err := h.Handle(ctx, nil, map[string]any{
			"operation":   "copy",
			"source_path": "out/report.txt",
			"target_path": "backup/report.txt",
		})
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(baseDir, "backup/report.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(data))
	})

	t.Run("Move", func(t *testing.T) {
		_, err := h.Handle(ctx, nil, map[string]any{
			"operation":   "move",
			"source_path": "backup/report.txt",
			"target_path": "archive/report.txt",
		})
		require.NoError(t, err)

		_, err = os.Stat(filepath.Join(baseDir, "backup/report.txt"))
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(baseDir, "archive/report.txt"))
		assert.NoError(t, err)
	})

	t.Run("Delete", func(t *testing.T) {
		_, err := h.Handle(ctx, nil, map[string]any{
			"operation":   "delete",
			"source_path": "archive/report.txt",
		})
		require.NoError(t, err)

		_, err = os.Stat(filepath.Join(baseDir, "archive/report.txt"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("PathEscapeRejected", func(t *testing.T) {
		_, err := h.Handle(ctx, nil, map[string]any{
			"operation":   "read",
			"source_path": "../../etc/passwd",
		})
		assert.ErrorContains(t, err, "escapes base directory")
	})

	t.Run("UnsupportedOperation", func(t *testing.T) {
		_, err := h.Handle(ctx, nil, map[string]any{
			"operation":   "truncate",
			"source_path": "out/report.txt",
		})
		assert.ErrorContains(t, err, "unsupported operation")
	})
}
