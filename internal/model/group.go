package model

import "time"

// Group is a named collection of task IDs. It is a grouping index only:
// membership does not affect task lifetime.
type Group struct {
	Name    string   `json:"name"`
	TaskIDs []string `json:"task_ids"`
}

// TaskStatistics is the aggregate view of a single task's execution history
type TaskStatistics struct {
	TaskID          string        `json:"task_id"`
	TotalRuns       int           `json:"total_runs"`
	SuccessCount    int           `json:"success_count"`
	FailureCount    int           `json:"failure_count"`
	AverageDuration time.Duration `json:"average_duration"`
	LastRun         *time.Time    `json:"last_run,omitempty"`
}

// GroupStatistics aggregates TaskStatistics element-wise across group members
type GroupStatistics struct {
	Name            string        `json:"name"`
	TaskCount       int           `json:"task_count"`
	TotalRuns       int           `json:"total_runs"`
	SuccessCount    int           `json:"success_count"`
	FailureCount    int           `json:"failure_count"`
	AverageDuration time.Duration `json:"average_duration"`
}
