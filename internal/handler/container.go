package handler

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// ContainerCommandPayload represents the payload for containerized command tasks
type ContainerCommandPayload struct {
	Image      string   `json:"image"`
	Cmd        []string `json:"cmd"`
	Env        []string `json:"env,omitempty"`
	WorkingDir string   `json:"working_dir,omitempty"`
}

// ContainerCommandResult holds the command outcome
type ContainerCommandResult struct {
	ExitCode int64  `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// ContainerCommandHandler runs a command inside a throwaway container. It is
// the sandboxed sibling of the shell command handler.
type ContainerCommandHandler struct {
	logger *zap.Logger
	docker *client.Client
}

// NewContainerCommandHandler creates a handler backed by the local Docker daemon
func NewContainerCommandHandler(logger *zap.Logger) (*ContainerCommandHandler, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &ContainerCommandHandler{
		logger: logger,
		docker: cli,
	}, nil
}

// Handle creates, runs and removes a container for the command
func (h *ContainerCommandHandler) Handle(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	var payload ContainerCommandPayload
	if err := decodePayload(kwargs, &payload); err != nil {
		return nil, err
	}
	if payload.Image == "" {
		return nil, fmt.Errorf("image is required")
	}

	created, err := h.docker.ContainerCreate(ctx, &container.Config{
		Image:      payload.Image,
		Cmd:        payload.Cmd,
		Env:        payload.Env,
		WorkingDir: payload.WorkingDir,
	}, nil, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		if err := h.docker.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true}); err != nil {
			h.logger.Warn("Failed to remove container",
				zap.String("container_id", created.ID),
				zap.Error(err))
		}
	}()

	h.logger.Info("Starting container",
		zap.String("image", payload.Image),
		zap.String("container_id", created.ID),
		zap.String("cmd", strings.Join(payload.Cmd, " ")))

	if err := h.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	var exitCode int64
	statusCh, errCh := h.docker.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return nil, fmt.Errorf("failed waiting for container: %w", err)
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	stdout, stderr, err := h.collectLogs(ctx, created.ID)
	if err != nil {
		h.logger.Warn("Failed to collect container logs",
			zap.String("container_id", created.ID),
			zap.Error(err))
	}

	result := &ContainerCommandResult{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}
	if exitCode != 0 {
		return result, fmt.Errorf("container exited with code %d: %s", exitCode, strings.TrimSpace(stderr))
	}
	return result, nil
}

// collectLogs demultiplexes stdout and stderr from the finished container
func (h *ContainerCommandHandler) collectLogs(ctx context.Context, containerID string) (string, string, error) {
	reader, err := h.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", err
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return "", "", err
	}
	return stdout.String(), stderr.String(), nil
}

// Close releases the docker client
func (h *ContainerCommandHandler) Close() error {
	return h.docker.Close()
}
