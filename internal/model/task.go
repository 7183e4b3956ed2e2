package model

import (
	"time"
)

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusPaused    TaskStatus = "paused"
)

// Terminal reports whether no further automatic transition can occur
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskType determines how the schedule spec is interpreted
type TaskType string

const (
	// TaskTypeOneTime runs once at its start time
	TaskTypeOneTime TaskType = "one_time"
	// TaskTypePeriodic runs at the next "HH:MM" wall-clock occurrence
	TaskTypePeriodic TaskType = "periodic"
	// TaskTypeCron runs at the next instant of a 5-field cron expression
	TaskTypeCron TaskType = "cron"
	// TaskTypeInterval runs after a fixed number of seconds
	TaskTypeInterval TaskType = "interval"
)

// TaskPriority represents the priority level of a task
type TaskPriority int

const (
	TaskPriorityLow      TaskPriority = 1
	TaskPriorityNormal   TaskPriority = 2
	TaskPriorityHigh     TaskPriority = 3
	TaskPriorityCritical TaskPriority = 4
)

// statisticsWindow bounds the per-task execution time ring
const statisticsWindow = 100

// Statistics tracks execution history for a single task
type Statistics struct {
	ExecutionTimes []time.Duration `json:"execution_times,omitempty"`
	SuccessCount   int             `json:"success_count"`
	FailureCount   int             `json:"failure_count"`
}

// Record appends one execution outcome, keeping the duration ring bounded
func (s *Statistics) Record(elapsed time.Duration, success bool) {
	s.ExecutionTimes = append(s.ExecutionTimes, elapsed)
	if len(s.ExecutionTimes) > statisticsWindow {
		s.ExecutionTimes = s.ExecutionTimes[len(s.ExecutionTimes)-statisticsWindow:]
	}
	if success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
}

// TotalRuns returns the number of recorded executions
func (s *Statistics) TotalRuns() int {
	return s.SuccessCount + s.FailureCount
}

// AverageDuration returns the mean duration over the bounded ring
func (s *Statistics) AverageDuration() time.Duration {
	if len(s.ExecutionTimes) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range s.ExecutionTimes {
		total += d
	}
	return total / time.Duration(len(s.ExecutionTimes))
}

func (s *Statistics) clone() Statistics {
	out := Statistics{
		SuccessCount: s.SuccessCount,
		FailureCount: s.FailureCount,
	}
	if len(s.ExecutionTimes) > 0 {
		out.ExecutionTimes = make([]time.Duration, len(s.ExecutionTimes))
		copy(out.ExecutionTimes, s.ExecutionTimes)
	}
	return out
}

// Task represents a unit of schedulable work
type Task struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         TaskType     `json:"type"`
	ScheduleSpec string       `json:"schedule_spec"`
	Status       TaskStatus   `json:"status"`
	Priority     TaskPriority `json:"priority"`

	// Timing fields
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`

	// Retry and timeout policy
	MaxRetries int           `json:"max_retries"`
	RetryCount int           `json:"retry_count"`
	Timeout    time.Duration `json:"timeout"`

	// Handler references are registry names, never serialized code
	HandlerRef string         `json:"handler_ref"`
	Args       []any          `json:"args,omitempty"`
	Kwargs     map[string]any `json:"kwargs,omitempty"`

	// Execution outcome
	Result       any    `json:"result,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Dependencies []string `json:"dependencies,omitempty"`
	Group        string   `json:"group,omitempty"`

	Statistics Statistics `json:"statistics"`
}

// Snapshot returns a deep copy safe to hand to event subscribers
func (t *Task) Snapshot() *Task {
	out := *t
	out.EndTime = copyTime(t.EndTime)
	out.LastRun = copyTime(t.LastRun)
	out.NextRun = copyTime(t.NextRun)
	if len(t.Args) > 0 {
		out.Args = make([]any, len(t.Args))
		copy(out.Args, t.Args)
	}
	if len(t.Kwargs) > 0 {
		out.Kwargs = make(map[string]any, len(t.Kwargs))
		for k, v := range t.Kwargs {
			out.Kwargs[k] = v
		}
	}
	if len(t.Dependencies) > 0 {
		out.Dependencies = make([]string, len(t.Dependencies))
		copy(out.Dependencies, t.Dependencies)
	}
	out.Statistics = t.Statistics.clone()
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
