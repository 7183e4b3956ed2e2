package handler

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileOperationType defines the type of file operation
type FileOperationType string

const (
	FileOperationRead   FileOperationType = "read"
	FileOperationWrite  FileOperationType = "write"
	FileOperationDelete FileOperationType = "delete"
	FileOperationMove   FileOperationType = "move"
	FileOperationCopy   FileOperationType = "copy"
)

// FileOperationPayload represents the payload for file operation tasks.
// Content is base64-encoded so it survives the JSON kwargs round-trip.
type FileOperationPayload struct {
	Operation   FileOperationType `json:"operation"`
	SourcePath  string            `json:"source_path"`
	TargetPath  string            `json:"target_path,omitempty"`
	Content     string            `json:"content,omitempty"`
	Permissions os.FileMode       `json:"permissions,omitempty"`
}

// FileOperationHandler handles file operations confined to a base directory
type FileOperationHandler struct {
	logger  *zap.Logger
	baseDir string
}

// NewFileOperationHandler creates a new file operation handler
func NewFileOperationHandler(logger *zap.Logger, baseDir string) *FileOperationHandler {
	return &FileOperationHandler{
		logger:  logger,
		baseDir: baseDir,
	}
}

// Handle performs the file operation
func (h *FileOperationHandler) Handle(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	var payload FileOperationPayload
	if err := decodePayload(kwargs, &payload); err != nil {
		return nil, err
	}

	sourcePath, err := h.resolve(payload.SourcePath)
	if err != nil {
		return nil, err
	}

	var targetPath string
	if payload.TargetPath != "" {
		targetPath, err = h.resolve(payload.TargetPath)
		if err != nil {
			return nil, err
		}
	}

	h.logger.Info("Executing file operation",
		zap.String("operation", string(payload.Operation)),
		zap.String("source", sourcePath))

	switch payload.Operation {
	case FileOperationRead:
		data, err := os.ReadFile(sourcePath)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case FileOperationWrite:
		content, err := base64.StdEncoding.DecodeString(payload.Content)
		if err != nil {
			// Plain text payloads are accepted as-is
			content = []byte(payload.Content)
		}
		perm := payload.Permissions
		if perm == 0 {
			perm = 0o644
		}
		if err := os.MkdirAll(filepath.Dir(sourcePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		return nil, os.WriteFile(sourcePath, content, perm)
	case FileOperationDelete:
		return nil, os.Remove(sourcePath)
	case FileOperationMove:
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create target directory: %w", err)
		}
		return nil, os.Rename(sourcePath, targetPath)
	case FileOperationCopy:
		return nil, h.copyFile(sourcePath, targetPath)
	default:
		return nil, fmt.Errorf("unsupported operation: %s", payload.Operation)
	}
}

// resolve confines a relative path to the handler's base directory
func (h *FileOperationHandler) resolve(path string) (string, error) {
	resolved := filepath.Clean(filepath.Join(h.baseDir, path))
	if resolved != h.baseDir && !strings.HasPrefix(resolved, h.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes base directory", path)
	}
	return resolved, nil
}

func (h *FileOperationHandler) copyFile(source, target string) error {
	sourceFile, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	targetFile, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}
	defer targetFile.Close()

	if _, err = io.Copy(targetFile, sourceFile); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to get source file info: %w", err)
	}

	return os.Chmod(target, sourceInfo.Mode())
}
