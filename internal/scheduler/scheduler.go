package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/taskforge/internal/event"
	"github.com/t77yq/taskforge/internal/executor"
	"github.com/t77yq/taskforge/internal/handler"
	"github.com/t77yq/taskforge/internal/model"
	"github.com/t77yq/taskforge/internal/storage"
)

// Options configures a Scheduler. Zero values fall back to the defaults.
type Options struct {
	// PollInterval is the scheduler loop cadence
	PollInterval time.Duration

	// GatingDelay is how far a task is deferred while a dependency is unmet
	GatingDelay time.Duration

	// MaxConcurrentTasks sizes the worker pool
	MaxConcurrentTasks int

	// QueueSize is the dispatch queue capacity
	QueueSize int

	// DispatchTimeout bounds dispatch blocking when the pool is saturated
	DispatchTimeout time.Duration

	// DefaultMaxRetries applies to tasks that do not set their own
	DefaultMaxRetries int

	// DefaultTimeout applies to tasks that do not set their own
	DefaultTimeout time.Duration

	// RetryBackoff is the delay policy between retries
	RetryBackoff executor.RetryStrategy

	// CleanupInterval is the sweeper cadence
	CleanupInterval time.Duration

	// Retention is how long terminal tasks are kept before eviction
	Retention time.Duration
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.GatingDelay <= 0 {
		o.GatingDelay = 10 * time.Second
	}
	if o.MaxConcurrentTasks <= 0 {
		o.MaxConcurrentTasks = 4
	}
	if o.QueueSize < 0 {
		o.QueueSize = 0
	}
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = 5 * time.Second
	}
	if o.DefaultMaxRetries < 0 {
		o.DefaultMaxRetries = 0
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = time.Minute
	}
	if o.RetryBackoff == nil {
		o.RetryBackoff = executor.DefaultBackoff()
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = time.Hour
	}
	if o.Retention <= 0 {
		o.Retention = 7 * 24 * time.Hour
	}
}

// TaskSpec is the caller-facing description of a task to schedule
type TaskSpec struct {
	Name         string
	HandlerRef   string
	Type         model.TaskType
	ScheduleSpec string
	Priority     model.TaskPriority
	StartTime    time.Time
	EndTime      *time.Time
	MaxRetries   *int
	Timeout      time.Duration
	Dependencies []string
	Group        string
	Args         []any
	Kwargs       map[string]any
}

// Scheduler owns the task registry, dependency graph, groups, worker pool and
// background goroutines. Construct it once and pass it by reference.
type Scheduler struct {
	logger  *zap.Logger
	opts    Options
	store   *Store
	graph   *dependencyGraph
	persist storage.TaskStore
	events  *event.Bus
	pool    *executor.Executor

	// mu serializes structural mutations: graph edges and group membership
	mu     sync.Mutex
	groups map[string]*model.Group

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler and restores persisted state. Tasks interrupted
// mid-run by a previous process are re-armed as scheduled.
func New(opts Options, registry *handler.Registry, persist storage.TaskStore, events *event.Bus, logger *zap.Logger) (*Scheduler, error) {
	opts.applyDefaults()

	s := &Scheduler{
		logger:  logger.Named("scheduler"),
		opts:    opts,
		store:   NewStore(),
		graph:   newDependencyGraph(),
		persist: persist,
		events:  events,
		groups:  make(map[string]*model.Group),
		stop:    make(chan struct{}),
	}

	s.pool = executor.New(executor.Config{
		Workers:         opts.MaxConcurrentTasks,
		QueueSize:       opts.QueueSize,
		DispatchTimeout: opts.DispatchTimeout,
		DefaultTimeout:  opts.DefaultTimeout,
	}, s.store, persist, registry, events, opts.RetryBackoff, logger)

	if err := s.restore(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// Start launches the worker pool, the scheduler loop and the cleanup sweeper
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler",
		zap.Duration("poll_interval", s.opts.PollInterval),
		zap.Int("max_concurrent_tasks", s.opts.MaxConcurrentTasks))

	s.pool.Start(ctx)

	s.wg.Add(2)
	go s.loop(ctx)
	go s.sweeper(ctx)
}

// Stop halts the loop and sweeper, then drains the worker pool
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping scheduler")
		close(s.stop)
	})
	s.wg.Wait()
	s.pool.Stop()
}

// Schedule validates and registers a task. A malformed schedule spec records
// the task as failed without it ever reaching scheduled state.
func (s *Scheduler) Schedule(ctx context.Context, spec TaskSpec) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	task := &model.Task{
		ID:           uuid.New().String(),
		Name:         spec.Name,
		Type:         spec.Type,
		ScheduleSpec: spec.ScheduleSpec,
		Status:       model.TaskStatusPending,
		Priority:     spec.Priority,
		StartTime:    spec.StartTime,
		EndTime:      spec.EndTime,
		MaxRetries:   s.opts.DefaultMaxRetries,
		Timeout:      spec.Timeout,
		HandlerRef:   spec.HandlerRef,
		Args:         spec.Args,
		Kwargs:       spec.Kwargs,
		Dependencies: spec.Dependencies,
		Group:        spec.Group,
	}
	if task.Priority == 0 {
		task.Priority = model.TaskPriorityNormal
	}
	if task.StartTime.IsZero() {
		task.StartTime = now
	}
	if spec.MaxRetries != nil {
		task.MaxRetries = *spec.MaxRetries
	}

	// Validate dependencies before insertion
	for _, depID := range task.Dependencies {
		if _, ok := s.store.Get(depID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrDependencyNotFound, depID)
		}
	}
	if err := s.graph.wouldCycle(task.ID, task.Dependencies); err != nil {
		return nil, err
	}

	next, err := NextRun(task.Type, task.ScheduleSpec, task.StartTime, now)
	if err != nil {
		task.Status = model.TaskStatusFailed
		task.ErrorMessage = err.Error()
		if insertErr := s.store.Insert(task); insertErr != nil {
			return nil, insertErr
		}
		s.persistTask(ctx, task)
		s.events.Publish(event.TypeFailed, task.Snapshot())
		return task.Snapshot(), err
	}

	task.Status = model.TaskStatusScheduled
	task.NextRun = &next

	if err := s.store.Insert(task); err != nil {
		return nil, err
	}
	s.graph.add(task.ID, task.Dependencies)
	if task.Group != "" {
		s.attachToGroupLocked(ctx, task.Group, task.ID)
	}

	s.persistTask(ctx, task)
	snapshot := task.Snapshot()
	s.events.Publish(event.TypeScheduled, snapshot)

	s.logger.Info("Task scheduled",
		zap.String("task_id", task.ID),
		zap.String("name", task.Name),
		zap.String("type", string(task.Type)),
		zap.Time("next_run", next))

	return snapshot, nil
}

// Cancel cancels a pending or scheduled task
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	task, err := s.store.Update(id, func(t *model.Task) error {
		if t.Status != model.TaskStatusPending && t.Status != model.TaskStatusScheduled {
			return fmt.Errorf("%w: cannot cancel task in status %s", ErrInvalidState, t.Status)
		}
		t.Status = model.TaskStatusCancelled
		return nil
	})
	if err != nil {
		return err
	}

	s.persistTask(ctx, task)
	s.events.Publish(event.TypeCancelled, task)
	s.logger.Info("Task cancelled", zap.String("task_id", id))
	return nil
}

// Pause takes a scheduled task out of the loop's consideration
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	task, err := s.store.Update(id, func(t *model.Task) error {
		if t.Status != model.TaskStatusScheduled {
			return fmt.Errorf("%w: cannot pause task in status %s", ErrInvalidState, t.Status)
		}
		t.Status = model.TaskStatusPaused
		return nil
	})
	if err != nil {
		return err
	}

	s.persistTask(ctx, task)
	s.logger.Info("Task paused", zap.String("task_id", id))
	return nil
}

// Resume recomputes the next run of a paused task and re-arms it
func (s *Scheduler) Resume(ctx context.Context, id string) error {
	now := time.Now()
	task, err := s.store.Update(id, func(t *model.Task) error {
		if t.Status != model.TaskStatusPaused {
			return fmt.Errorf("%w: cannot resume task in status %s", ErrInvalidState, t.Status)
		}
		next, err := NextRun(t.Type, t.ScheduleSpec, t.StartTime, now)
		if err != nil {
			t.Status = model.TaskStatusFailed
			t.ErrorMessage = err.Error()
			t.NextRun = nil
			return nil
		}
		t.Status = model.TaskStatusScheduled
		t.NextRun = &next
		return nil
	})
	if err != nil {
		return err
	}

	s.persistTask(ctx, task)
	if task.Status == model.TaskStatusFailed {
		s.events.Publish(event.TypeFailed, task)
		return fmt.Errorf("%w: %s", ErrScheduleComputation, task.ErrorMessage)
	}

	s.events.Publish(event.TypeScheduled, task)
	s.logger.Info("Task resumed",
		zap.String("task_id", id),
		zap.Timep("next_run", task.NextRun))
	return nil
}

// Get returns a snapshot of a task
func (s *Scheduler) Get(id string) (*model.Task, error) {
	task, ok := s.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, nil
}

// List returns snapshots of tasks matching the filter
func (s *Scheduler) List(filter ListFilter) []*model.Task {
	return s.store.List(filter)
}

// TaskStatistics returns the aggregate execution statistics of one task
func (s *Scheduler) TaskStatistics(id string) (*model.TaskStatistics, error) {
	task, ok := s.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return &model.TaskStatistics{
		TaskID:          task.ID,
		TotalRuns:       task.Statistics.TotalRuns(),
		SuccessCount:    task.Statistics.SuccessCount,
		FailureCount:    task.Statistics.FailureCount,
		AverageDuration: task.Statistics.AverageDuration(),
		LastRun:         task.LastRun,
	}, nil
}

// Delete removes a terminal task explicitly, ahead of the sweeper
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	task, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !task.Status.Terminal() {
		return fmt.Errorf("%w: cannot delete task in status %s", ErrInvalidState, task.Status)
	}
	s.removeTask(ctx, task)
	return nil
}

// Gauges is a point-in-time view for monitoring
type Gauges struct {
	Tasks map[model.TaskStatus]int
	Pool  executor.PoolStats
}

// Gauges samples task counts by status and worker pool stats
func (s *Scheduler) Gauges() Gauges {
	return Gauges{
		Tasks: s.store.StatusCounts(),
		Pool:  s.pool.Stats(),
	}
}

// loop is the driver goroutine: scan due tasks each tick and dispatch them
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := time.Now()

	for _, task := range s.store.Due(now) {
		if task.EndTime != nil && now.After(*task.EndTime) {
			s.expire(ctx, task.ID)
			continue
		}

		if done := s.gateDependencies(ctx, task, now); !done {
			continue
		}

		s.dispatch(ctx, task.ID)
	}
}

// gateDependencies reports whether the task may run now. Unmet dependencies
// defer it; a dependency that can no longer complete fails it.
func (s *Scheduler) gateDependencies(ctx context.Context, task *model.Task, now time.Time) bool {
	for _, depID := range task.Dependencies {
		dep, ok := s.store.Get(depID)
		if !ok {
			// Dependency already evicted by the sweeper; nothing left to wait on
			continue
		}

		switch dep.Status {
		case model.TaskStatusCompleted:
			continue
		case model.TaskStatusFailed, model.TaskStatusCancelled:
			s.failDependent(ctx, task.ID, depID, dep.Status)
			return false
		default:
			s.deferTask(ctx, task.ID, now)
			return false
		}
	}
	return true
}

func (s *Scheduler) deferTask(ctx context.Context, id string, now time.Time) {
	task, err := s.store.Update(id, func(t *model.Task) error {
		if t.Status != model.TaskStatusScheduled {
			return fmt.Errorf("%w: task no longer scheduled", ErrInvalidState)
		}
		next := now.Add(s.opts.GatingDelay)
		t.NextRun = &next
		return nil
	})
	if err != nil {
		return
	}
	s.persistTask(ctx, task)
}

func (s *Scheduler) failDependent(ctx context.Context, id, depID string, depStatus model.TaskStatus) {
	task, err := s.store.Update(id, func(t *model.Task) error {
		if t.Status != model.TaskStatusScheduled {
			return fmt.Errorf("%w: task no longer scheduled", ErrInvalidState)
		}
		t.Status = model.TaskStatusFailed
		t.ErrorMessage = fmt.Sprintf("dependency %s is %s", depID, depStatus)
		t.NextRun = nil
		return nil
	})
	if err != nil {
		return
	}

	s.persistTask(ctx, task)
	s.events.Publish(event.TypeFailed, task)
	s.logger.Warn("Task failed due to unrunnable dependency",
		zap.String("task_id", id),
		zap.String("dependency_id", depID),
		zap.String("dependency_status", string(depStatus)))
}

// expire completes a task whose execution window closed before it ran
func (s *Scheduler) expire(ctx context.Context, id string) {
	task, err := s.store.Update(id, func(t *model.Task) error {
		if t.Status != model.TaskStatusScheduled {
			return fmt.Errorf("%w: task no longer scheduled", ErrInvalidState)
		}
		t.Status = model.TaskStatusCompleted
		t.NextRun = nil
		return nil
	})
	if err != nil {
		return
	}

	s.persistTask(ctx, task)
	s.events.Publish(event.TypeCompleted, task)
	s.logger.Info("Task window closed", zap.String("task_id", id))
}

// dispatch claims the task and hands it to the pool. A saturated pool defers
// the task instead of stalling the loop past the dispatch timeout.
func (s *Scheduler) dispatch(ctx context.Context, id string) {
	if _, err := s.store.Update(id, func(t *model.Task) error {
		if t.Status != model.TaskStatusScheduled {
			return fmt.Errorf("%w: task no longer scheduled", ErrInvalidState)
		}
		t.Status = model.TaskStatusRunning
		return nil
	}); err != nil {
		return
	}

	if err := s.pool.Dispatch(ctx, id); err != nil {
		s.logger.Warn("Dispatch failed, deferring task",
			zap.String("task_id", id),
			zap.Error(err))
		task, uerr := s.store.Update(id, func(t *model.Task) error {
			t.Status = model.TaskStatusScheduled
			next := time.Now().Add(s.opts.GatingDelay)
			t.NextRun = &next
			return nil
		})
		if uerr == nil {
			s.persistTask(ctx, task)
		}
	}
}

// restore loads persisted state. Tasks left scheduled or running by a
// previous process get their next run recomputed; a crash mid-run is treated
// as interrupted, not silently resumed.
func (s *Scheduler) restore(ctx context.Context) error {
	groups, err := s.persist.LoadGroups(ctx)
	if err != nil {
		return fmt.Errorf("failed to load groups: %w", err)
	}
	for _, group := range groups {
		s.groups[group.Name] = group
	}

	tasks, err := s.persist.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	now := time.Now()
	for _, task := range tasks {
		rearmed := false
		if task.Status == model.TaskStatusScheduled || task.Status == model.TaskStatusRunning {
			next, err := NextRun(task.Type, task.ScheduleSpec, task.StartTime, now)
			if err != nil {
				task.Status = model.TaskStatusFailed
				task.ErrorMessage = err.Error()
				task.NextRun = nil
			} else {
				task.Status = model.TaskStatusScheduled
				task.NextRun = &next
			}
			rearmed = true
		}

		if err := s.store.Insert(task); err != nil {
			return fmt.Errorf("failed to restore task %s: %w", task.ID, err)
		}
		s.graph.add(task.ID, task.Dependencies)

		if rearmed {
			s.persistTask(ctx, task)
		}
	}

	if len(tasks) > 0 || len(groups) > 0 {
		s.logger.Info("Restored persisted state",
			zap.Int("tasks", len(tasks)),
			zap.Int("groups", len(groups)))
	}
	return nil
}

// removeTask evicts a task from the registry, graph, its group and persistence
func (s *Scheduler) removeTask(ctx context.Context, task *model.Task) {
	s.store.Remove(task.ID)

	s.mu.Lock()
	s.graph.remove(task.ID)
	if task.Group != "" {
		if group, ok := s.groups[task.Group]; ok {
			group.TaskIDs = removeID(group.TaskIDs, task.ID)
			s.persistGroup(ctx, group)
		}
	}
	s.mu.Unlock()

	if err := s.persist.DeleteTask(ctx, task.ID); err != nil {
		s.logger.Error("Failed to delete persisted task",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

func (s *Scheduler) persistTask(ctx context.Context, task *model.Task) {
	if err := s.persist.SaveTask(ctx, task); err != nil {
		// The in-memory store stays authoritative; the next transition retries.
		s.logger.Error("Failed to persist task",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

func (s *Scheduler) persistGroup(ctx context.Context, group *model.Group) {
	if err := s.persist.SaveGroup(ctx, group); err != nil {
		s.logger.Error("Failed to persist group",
			zap.String("group", group.Name),
			zap.Error(err))
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
