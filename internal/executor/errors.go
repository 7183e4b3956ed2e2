package executor

import "errors"

var (
	// ErrHandlerNotFound is returned when a task's handler reference is not registered
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrTimeoutExceeded is returned when a handler does not return within the task timeout
	ErrTimeoutExceeded = errors.New("timeout exceeded")

	// ErrDispatchTimeout is returned when the worker pool stays saturated past the dispatch timeout
	ErrDispatchTimeout = errors.New("dispatch timed out: worker pool saturated")
)
