package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Func is the callable invoked by the executor for a task. Positional args and
// keyword args come straight off the task record.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Registry maps handler names to callables. Tasks persist only the name; the
// registry is populated at process startup and resolved at dispatch time.
type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex
	funcs  map[string]Func
}

// NewRegistry creates an empty handler registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.Named("handler-registry"),
		funcs:  make(map[string]Func),
	}
}

// Register registers a handler under the given name, replacing any previous
// registration with the same name
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		r.logger.Warn("Replacing existing handler", zap.String("name", name))
	}
	r.funcs[name] = fn
}

// Resolve looks up a handler by name
func (r *Registry) Resolve(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the sorted list of registered handler names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodePayload round-trips kwargs through JSON into a typed payload struct
func decodePayload(kwargs map[string]any, out any) error {
	data, err := json.Marshal(kwargs)
	if err != nil {
		return fmt.Errorf("failed to marshal kwargs: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
