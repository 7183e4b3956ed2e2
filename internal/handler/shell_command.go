package handler

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// ShellCommandPayload represents the payload for shell command tasks
type ShellCommandPayload struct {
	Command    string            `json:"command"`
	Args       []string          `json:"args"`
	Env        map[string]string `json:"env"`
	WorkingDir string            `json:"working_dir"`
}

// ShellCommandHandler handles shell command execution tasks
type ShellCommandHandler struct {
	logger *zap.Logger
}

// NewShellCommandHandler creates a new shell command handler
func NewShellCommandHandler(logger *zap.Logger) *ShellCommandHandler {
	return &ShellCommandHandler{
		logger: logger,
	}
}

// Handle runs the shell command. The executor's deadline context kills the
// process on timeout.
func (h *ShellCommandHandler) Handle(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	var payload ShellCommandPayload
	if err := decodePayload(kwargs, &payload); err != nil {
		return nil, err
	}
	if payload.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmd := exec.CommandContext(ctx, payload.Command, payload.Args...)
	if payload.WorkingDir != "" {
		cmd.Dir = payload.WorkingDir
	}
	if len(payload.Env) > 0 {
		env := make([]string, 0, len(payload.Env))
		for k, v := range payload.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = append(cmd.Env, env...)
	}

	h.logger.Info("Executing shell command",
		zap.String("command", payload.Command),
		zap.Strings("args", payload.Args))

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("command execution timed out")
		}
		return nil, fmt.Errorf("command failed: %s", strings.TrimSpace(string(output)))
	}

	return string(output), nil
}
