package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// sweeper periodically evicts old terminal-state tasks and prunes run history
func (s *Scheduler) sweeper(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(ctx, time.Now())
		}
	}
}

// sweep removes terminal tasks whose last activity predates the retention
// window, deleting both the in-memory record and the persisted entity
func (s *Scheduler) sweep(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.opts.Retention)
	evicted := 0

	for _, task := range s.store.List(ListFilter{}) {
		if !task.Status.Terminal() {
			continue
		}
		// Tasks that never ran age from their start time
		ref := task.StartTime
		if task.LastRun != nil {
			ref = *task.LastRun
		}
		if ref.After(cutoff) {
			continue
		}
		s.removeTask(ctx, task)
		evicted++
	}

	if err := s.persist.PruneRuns(ctx, cutoff); err != nil {
		s.logger.Error("Failed to prune run history", zap.Error(err))
	}

	if evicted > 0 {
		s.logger.Info("Swept old terminal tasks",
			zap.Int("evicted", evicted),
			zap.Time("cutoff", cutoff))
	}
}
