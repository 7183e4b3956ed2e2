package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/taskforge/internal/model"
)

// RunRecord is one execution history row, appended per attempt
type RunRecord struct {
	ID        string        `json:"id"`
	TaskID    string        `json:"task_id"`
	Name      string        `json:"name"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// TaskStore persists tasks, groups and run history. The in-memory registry
// stays authoritative; persistence errors are logged by callers and retried
// on the next state change.
type TaskStore interface {
	// SaveTask upserts a task row
	SaveTask(ctx context.Context, task *model.Task) error

	// DeleteTask removes a task row
	DeleteTask(ctx context.Context, id string) error

	// LoadTasks loads every persisted task
	LoadTasks(ctx context.Context) ([]*model.Task, error)

	// SaveGroup upserts a group row
	SaveGroup(ctx context.Context, group *model.Group) error

	// DeleteGroup removes a group row
	DeleteGroup(ctx context.Context, name string) error

	// LoadGroups loads every persisted group
	LoadGroups(ctx context.Context) ([]*model.Group, error)

	// AppendRun records one execution attempt
	AppendRun(ctx context.Context, run *RunRecord) error

	// ListRuns returns the most recent runs for a task
	ListRuns(ctx context.Context, taskID string, limit int) ([]*RunRecord, error)

	// PruneRuns deletes run records started before the given time
	PruneRuns(ctx context.Context, before time.Time) error

	// Close releases the underlying store
	Close() error
}

// SQLiteStore implements TaskStore using SQLite, one row per entity
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens (or creates) the task store at the given path
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		logger: logger.Named("task-store"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			priority INTEGER NOT NULL,
			schedule_spec TEXT,
			start_time DATETIME NOT NULL,
			end_time DATETIME,
			last_run DATETIME,
			next_run DATETIME,
			max_retries INTEGER NOT NULL,
			retry_count INTEGER NOT NULL,
			timeout INTEGER NOT NULL,
			handler_ref TEXT NOT NULL,
			args TEXT,
			kwargs TEXT,
			result TEXT,
			error_message TEXT,
			dependencies TEXT,
			group_name TEXT,
			statistics TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
		CREATE INDEX IF NOT EXISTS idx_tasks_group ON tasks(group_name);

		CREATE TABLE IF NOT EXISTS task_groups (
			name TEXT PRIMARY KEY,
			task_ids TEXT
		);

		CREATE TABLE IF NOT EXISTS task_runs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			name TEXT NOT NULL,
			success INTEGER NOT NULL,
			error TEXT,
			started_at DATETIME NOT NULL,
			duration INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_task_runs_task_id ON task_runs(task_id);
		CREATE INDEX IF NOT EXISTS idx_task_runs_started_at ON task_runs(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// SaveTask implements TaskStore.SaveTask
func (s *SQLiteStore) SaveTask(ctx context.Context, task *model.Task) error {
	args, err := marshalNullable(task.Args, len(task.Args) > 0)
	if err != nil {
		return err
	}
	kwargs, err := marshalNullable(task.Kwargs, len(task.Kwargs) > 0)
	if err != nil {
		return err
	}
	result, err := marshalNullable(task.Result, task.Result != nil)
	if err != nil {
		return err
	}
	deps, err := marshalNullable(task.Dependencies, len(task.Dependencies) > 0)
	if err != nil {
		return err
	}
	stats, err := json.Marshal(task.Statistics)
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, name, type, status, priority, schedule_spec,
			start_time, end_time, last_run, next_run,
			max_retries, retry_count, timeout, handler_ref,
			args, kwargs, result, error_message, dependencies, group_name,
			statistics, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			status = excluded.status,
			priority = excluded.priority,
			schedule_spec = excluded.schedule_spec,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			last_run = excluded.last_run,
			next_run = excluded.next_run,
			max_retries = excluded.max_retries,
			retry_count = excluded.retry_count,
			timeout = excluded.timeout,
			handler_ref = excluded.handler_ref,
			args = excluded.args,
			kwargs = excluded.kwargs,
			result = excluded.result,
			error_message = excluded.error_message,
			dependencies = excluded.dependencies,
			group_name = excluded.group_name,
			statistics = excluded.statistics,
			updated_at = CURRENT_TIMESTAMP`,
		task.ID,
		task.Name,
		string(task.Type),
		string(task.Status),
		int(task.Priority),
		task.ScheduleSpec,
		task.StartTime,
		nullTime(task.EndTime),
		nullTime(task.LastRun),
		nullTime(task.NextRun),
		task.MaxRetries,
		task.RetryCount,
		int64(task.Timeout),
		task.HandlerRef,
		args,
		kwargs,
		result,
		sql.NullString{String: task.ErrorMessage, Valid: task.ErrorMessage != ""},
		deps,
		sql.NullString{String: task.Group, Valid: task.Group != ""},
		string(stats),
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// DeleteTask implements TaskStore.DeleteTask
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// LoadTasks implements TaskStore.LoadTasks
func (s *SQLiteStore) LoadTasks(ctx context.Context) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, name, type, status, priority, schedule_spec,
			start_time, end_time, last_run, next_run,
			max_retries, retry_count, timeout, handler_ref,
			args, kwargs, result, error_message, dependencies, group_name,
			statistics
		FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return tasks, nil
}

func scanTask(rows *sql.Rows) (*model.Task, error) {
	var task model.Task
	var taskType, status string
	var priority int
	var scheduleSpec sql.NullString
	var endTime, lastRun, nextRun sql.NullTime
	var timeoutNanos int64
	var args, kwargs, result, errorMsg, deps, group, stats sql.NullString

	err := rows.Scan(
		&task.ID,
		&task.Name,
		&taskType,
		&status,
		&priority,
		&scheduleSpec,
		&task.StartTime,
		&endTime,
		&lastRun,
		&nextRun,
		&task.MaxRetries,
		&task.RetryCount,
		&timeoutNanos,
		&task.HandlerRef,
		&args,
		&kwargs,
		&result,
		&errorMsg,
		&deps,
		&group,
		&stats,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	task.Type = model.TaskType(taskType)
	task.Status = model.TaskStatus(status)
	task.Priority = model.TaskPriority(priority)
	task.ScheduleSpec = scheduleSpec.String
	task.Timeout = time.Duration(timeoutNanos)
	if endTime.Valid {
		t := endTime.Time
		task.EndTime = &t
	}
	if lastRun.Valid {
		t := lastRun.Time
		task.LastRun = &t
	}
	if nextRun.Valid {
		t := nextRun.Time
		task.NextRun = &t
	}
	if errorMsg.Valid {
		task.ErrorMessage = errorMsg.String
	}
	if group.Valid {
		task.Group = group.String
	}
	if err := unmarshalNullable(args, &task.Args); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(kwargs, &task.Kwargs); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(result, &task.Result); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(deps, &task.Dependencies); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(stats, &task.Statistics); err != nil {
		return nil, err
	}

	return &task, nil
}

// SaveGroup implements TaskStore.SaveGroup
func (s *SQLiteStore) SaveGroup(ctx context.Context, group *model.Group) error {
	taskIDs, err := json.Marshal(group.TaskIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal task IDs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_groups (name, task_ids) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET task_ids = excluded.task_ids`,
		group.Name, string(taskIDs))
	if err != nil {
		return fmt.Errorf("failed to save group: %w", err)
	}
	return nil
}

// DeleteGroup implements TaskStore.DeleteGroup
func (s *SQLiteStore) DeleteGroup(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM task_groups WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return nil
}

// LoadGroups implements TaskStore.LoadGroups
func (s *SQLiteStore) LoadGroups(ctx context.Context) ([]*model.Group, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, task_ids FROM task_groups")
	if err != nil {
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}
	defer rows.Close()

	var groups []*model.Group
	for rows.Next() {
		var group model.Group
		var taskIDs sql.NullString
		if err := rows.Scan(&group.Name, &taskIDs); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		if err := unmarshalNullable(taskIDs, &group.TaskIDs); err != nil {
			return nil, err
		}
		groups = append(groups, &group)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return groups, nil
}

// AppendRun implements TaskStore.AppendRun
func (s *SQLiteStore) AppendRun(ctx context.Context, run *RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_runs (id, task_id, name, success, error, started_at, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.TaskID,
		run.Name,
		run.Success,
		sql.NullString{String: run.Error, Valid: run.Error != ""},
		run.StartedAt,
		int64(run.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to append run record: %w", err)
	}
	return nil
}

// ListRuns implements TaskStore.ListRuns
func (s *SQLiteStore) ListRuns(ctx context.Context, taskID string, limit int) ([]*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, name, success, error, started_at, duration
		FROM task_runs
		WHERE task_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run := &RunRecord{}
		var errStr sql.NullString
		var durationNanos int64
		if err := rows.Scan(&run.ID, &run.TaskID, &run.Name, &run.Success, &errStr, &run.StartedAt, &durationNanos); err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		run.Error = errStr.String
		run.Duration = time.Duration(durationNanos)
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

// PruneRuns implements TaskStore.PruneRuns
func (s *SQLiteStore) PruneRuns(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM task_runs WHERE started_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to prune runs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected > 0 {
		s.logger.Info("Pruned old run records",
			zap.Time("before", before),
			zap.Int64("deleted", affected))
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func marshalNullable(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal field: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalNullable(v sql.NullString, out any) error {
	if !v.Valid || v.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(v.String), out); err != nil {
		return fmt.Errorf("failed to unmarshal field: %w", err)
	}
	return nil
}
