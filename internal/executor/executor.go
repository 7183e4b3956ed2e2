package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/taskforge/internal/event"
	"github.com/t77yq/taskforge/internal/handler"
	"github.com/t77yq/taskforge/internal/model"
	"github.com/t77yq/taskforge/internal/storage"
)

// Store is the slice of the task registry the executor needs: atomic
// read-modify-write of a single record. The scheduler's store implements it.
type Store interface {
	// Update applies mutate under the store lock and returns a snapshot of the
	// task afterwards. A non-nil error from mutate aborts the update.
	Update(id string, mutate func(*model.Task) error) (*model.Task, error)
}

// Config defines the worker pool configuration
type Config struct {
	// Workers is the number of pool goroutines (maxConcurrentTasks)
	Workers int

	// QueueSize is the dispatch queue capacity
	QueueSize int

	// DispatchTimeout bounds how long Dispatch blocks when the pool is saturated
	DispatchTimeout time.Duration

	// DefaultTimeout applies to tasks that do not set their own timeout
	DefaultTimeout time.Duration
}

// Executor runs dispatched tasks on a bounded worker pool, enforcing per-task
// timeouts and the retry/backoff policy.
type Executor struct {
	logger   *zap.Logger
	cfg      Config
	store    Store
	persist  storage.TaskStore
	registry *handler.Registry
	events   *event.Bus
	backoff  RetryStrategy

	queue    chan string
	running  atomic.Int64
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates an executor. Start launches the workers.
func New(cfg Config, store Store, persist storage.TaskStore, registry *handler.Registry, events *event.Bus, backoff RetryStrategy, logger *zap.Logger) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if backoff == nil {
		backoff = DefaultBackoff()
	}

	return &Executor{
		logger:   logger.Named("executor"),
		cfg:      cfg,
		store:    store,
		persist:  persist,
		registry: registry,
		events:   events,
		backoff:  backoff,
		queue:    make(chan string, cfg.QueueSize),
	}
}

// Start launches the worker pool
func (e *Executor) Start(ctx context.Context) {
	e.logger.Info("Starting worker pool", zap.Int("workers", e.cfg.Workers))
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
}

// Stop closes the queue and waits for in-flight tasks to finish
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		e.logger.Info("Stopping worker pool")
		close(e.queue)
	})
	e.wg.Wait()
}

// Dispatch enqueues a task for execution. When the pool is saturated it
// blocks up to the configured dispatch timeout instead of spawning work
// beyond the concurrency ceiling.
func (e *Executor) Dispatch(ctx context.Context, taskID string) error {
	timer := time.NewTimer(e.cfg.DispatchTimeout)
	defer timer.Stop()

	select {
	case e.queue <- taskID:
		return nil
	case <-timer.C:
		return ErrDispatchTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) worker(ctx context.Context) {
	defer e.wg.Done()

	for taskID := range e.queue {
		e.run(ctx, taskID)
	}
}

func (e *Executor) run(ctx context.Context, taskID string) {
	e.running.Add(1)
	defer e.running.Add(-1)

	now := time.Now()
	task, err := e.store.Update(taskID, func(t *model.Task) error {
		t.Status = model.TaskStatusRunning
		lastRun := now
		t.LastRun = &lastRun
		return nil
	})
	if err != nil {
		e.logger.Warn("Dispatched task no longer in store", zap.String("task_id", taskID))
		return
	}

	e.persistTask(ctx, task)
	e.events.Publish(event.TypeStarted, task)

	var result any
	var runErr error

	fn, ok := e.registry.Resolve(task.HandlerRef)
	if !ok {
		runErr = fmt.Errorf("%w: %s", ErrHandlerNotFound, task.HandlerRef)
	}

	started := time.Now()
	if runErr == nil {
		result, runErr = e.invoke(ctx, fn, task)
	}
	elapsed := time.Since(started)

	e.finish(ctx, taskID, started, elapsed, result, runErr)
}

// invoke runs the handler under a deadline context. Timeout enforcement is
// cooperative: the handler goroutine is abandoned, never killed.
func (e *Executor) invoke(ctx context.Context, fn handler.Func, task *model.Task) (any, error) {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := fn(runCtx, task.Args, task.Kwargs)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-runCtx.Done():
		return nil, fmt.Errorf("%w after %s", ErrTimeoutExceeded, timeout)
	}
}

func (e *Executor) finish(ctx context.Context, taskID string, startedAt time.Time, elapsed time.Duration, result any, runErr error) {
	success := runErr == nil

	task, err := e.store.Update(taskID, func(t *model.Task) error {
		t.Statistics.Record(elapsed, success)
		if success {
			t.Status = model.TaskStatusCompleted
			t.Result = result
			t.ErrorMessage = ""
			t.NextRun = nil
			return nil
		}

		t.ErrorMessage = runErr.Error()
		if t.RetryCount < t.MaxRetries {
			t.RetryCount++
			next := time.Now().Add(e.backoff.NextRetry(t.RetryCount))
			t.NextRun = &next
			t.Status = model.TaskStatusScheduled
		} else {
			t.Status = model.TaskStatusFailed
			t.NextRun = nil
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("Finished task no longer in store", zap.String("task_id", taskID))
		return
	}

	e.persistTask(ctx, task)

	run := &storage.RunRecord{
		TaskID:    task.ID,
		Name:      task.Name,
		Success:   success,
		StartedAt: startedAt,
		Duration:  elapsed,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := e.persist.AppendRun(ctx, run); err != nil {
		e.logger.Error("Failed to append run record",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}

	switch task.Status {
	case model.TaskStatusCompleted:
		e.logger.Info("Task completed",
			zap.String("task_id", task.ID),
			zap.Duration("elapsed", elapsed))
		e.events.Publish(event.TypeCompleted, task)
	case model.TaskStatusScheduled:
		e.logger.Info("Task re-armed for retry",
			zap.String("task_id", task.ID),
			zap.Int("attempt", task.RetryCount),
			zap.Int("max_retries", task.MaxRetries),
			zap.Error(runErr))
		e.events.Publish(event.TypeScheduled, task)
	case model.TaskStatusFailed:
		e.logger.Warn("Task failed after exhausting retries",
			zap.String("task_id", task.ID),
			zap.Int("attempts", task.RetryCount+1),
			zap.Error(runErr))
		e.events.Publish(event.TypeFailed, task)
	}
}

func (e *Executor) persistTask(ctx context.Context, task *model.Task) {
	if err := e.persist.SaveTask(ctx, task); err != nil {
		// The in-memory store stays authoritative; the next transition retries.
		e.logger.Error("Failed to persist task",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}
