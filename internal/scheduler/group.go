package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/taskforge/internal/model"
)

// CreateGroup registers an empty named group
func (s *Scheduler) CreateGroup(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[name]; exists {
		return fmt.Errorf("%w: %s", ErrGroupExists, name)
	}

	group := &model.Group{Name: name}
	s.groups[name] = group
	s.persistGroup(ctx, group)

	s.logger.Info("Group created", zap.String("group", name))
	return nil
}

// DeleteGroup detaches member tasks and removes the group index. Member
// tasks themselves are neither cancelled nor deleted.
func (s *Scheduler) DeleteGroup(ctx context.Context, name string) error {
	s.mu.Lock()
	group, exists := s.groups[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	members := append([]string(nil), group.TaskIDs...)
	delete(s.groups, name)
	s.mu.Unlock()

	for _, id := range members {
		task, err := s.store.Update(id, func(t *model.Task) error {
			t.Group = ""
			return nil
		})
		if err != nil {
			continue
		}
		s.persistTask(ctx, task)
	}

	if err := s.persist.DeleteGroup(ctx, name); err != nil {
		s.logger.Error("Failed to delete persisted group",
			zap.String("group", name),
			zap.Error(err))
	}

	s.logger.Info("Group deleted",
		zap.String("group", name),
		zap.Int("detached_tasks", len(members)))
	return nil
}

// CancelGroup cancels every member task, collecting partial failures
func (s *Scheduler) CancelGroup(ctx context.Context, name string) error {
	s.mu.Lock()
	group, exists := s.groups[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	members := append([]string(nil), group.TaskIDs...)
	s.mu.Unlock()

	var errs []error
	for _, id := range members {
		if err := s.Cancel(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// GroupStatistics aggregates member task statistics element-wise
func (s *Scheduler) GroupStatistics(name string) (*model.GroupStatistics, error) {
	s.mu.Lock()
	group, exists := s.groups[name]
	if !exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	members := append([]string(nil), group.TaskIDs...)
	s.mu.Unlock()

	stats := &model.GroupStatistics{Name: name}
	var durationTotal time.Duration
	var durationCount int

	for _, id := range members {
		task, ok := s.store.Get(id)
		if !ok {
			continue
		}
		stats.TaskCount++
		stats.TotalRuns += task.Statistics.TotalRuns()
		stats.SuccessCount += task.Statistics.SuccessCount
		stats.FailureCount += task.Statistics.FailureCount
		for _, d := range task.Statistics.ExecutionTimes {
			durationTotal += d
			durationCount++
		}
	}
	if durationCount > 0 {
		stats.AverageDuration = durationTotal / time.Duration(durationCount)
	}

	return stats, nil
}

// ListGroups returns the known group names and memberships
func (s *Scheduler) ListGroups() []*model.Group {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Group, 0, len(s.groups))
	for _, group := range s.groups {
		out = append(out, &model.Group{
			Name:    group.Name,
			TaskIDs: append([]string(nil), group.TaskIDs...),
		})
	}
	return out
}

// attachToGroupLocked adds a task to a group, creating the group on first
// reference. Caller holds s.mu.
func (s *Scheduler) attachToGroupLocked(ctx context.Context, name, taskID string) {
	group, exists := s.groups[name]
	if !exists {
		group = &model.Group{Name: name}
		s.groups[name] = group
	}
	group.TaskIDs = append(group.TaskIDs, taskID)
	s.persistGroup(ctx, group)
}
