package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/t77yq/taskforge/internal/model"
)

// ListFilter narrows List results. Empty slices match everything.
type ListFilter struct {
	Types    []model.TaskType
	Statuses []model.TaskStatus
}

func (f ListFilter) matches(task *model.Task) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if task.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if task.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Store is the in-memory task registry, the single source of truth. All
// access goes through its mutex; callers only ever see snapshots.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*model.Task
}

// NewStore creates an empty task registry
func NewStore() *Store {
	return &Store{
		tasks: make(map[string]*model.Task),
	}
}

// Insert adds a new task. The ID must be unique for the store's lifetime.
func (s *Store) Insert(task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = task
	return nil
}

// Get returns a snapshot of the task
func (s *Store) Get(id string) (*model.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return task.Snapshot(), true
}

// Update applies mutate under the store lock and returns a snapshot of the
// task afterwards. A non-nil error from mutate aborts the update.
func (s *Store) Update(id string, mutate func(*model.Task) error) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err := mutate(task); err != nil {
		return nil, err
	}
	return task.Snapshot(), nil
}

// Remove deletes the task from the registry
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// List returns snapshots of tasks matching the filter
func (s *Store) List(filter ListFilter) []*model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Task
	for _, task := range s.tasks {
		if filter.matches(task) {
			out = append(out, task.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Due returns snapshots of scheduled tasks whose next run has arrived,
// ordered by priority (highest first) then by next run time. Priority is an
// ordering hint only; it grants no preemption.
func (s *Store) Due(now time.Time) []*model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*model.Task
	for _, task := range s.tasks {
		if task.Status != model.TaskStatusScheduled {
			continue
		}
		if task.NextRun == nil || task.NextRun.After(now) {
			continue
		}
		due = append(due, task.Snapshot())
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].NextRun.Before(*due[j].NextRun)
	})
	return due
}

// StatusCounts returns the number of tasks per status
func (s *Store) StatusCounts() map[model.TaskStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[model.TaskStatus]int)
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	return counts
}

// Len returns the number of registered tasks
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
