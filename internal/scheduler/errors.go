package scheduler

import "errors"

var (
	// ErrTaskNotFound is returned when a task is not found
	ErrTaskNotFound = errors.New("task not found")

	// ErrDependencyNotFound is returned when a dependency references an unknown task
	ErrDependencyNotFound = errors.New("dependency not found")

	// ErrCircularDependency is returned when a dependency edge would close a cycle
	ErrCircularDependency = errors.New("circular dependency detected")

	// ErrScheduleComputation is returned when a schedule spec cannot be evaluated
	ErrScheduleComputation = errors.New("schedule computation failed")

	// ErrInvalidState is returned when an operation is not valid for the task's current status
	ErrInvalidState = errors.New("invalid task state for operation")

	// ErrGroupExists is returned when creating a group whose name is taken
	ErrGroupExists = errors.New("group already exists")

	// ErrGroupNotFound is returned when a group is not found
	ErrGroupNotFound = errors.New("group not found")
)
