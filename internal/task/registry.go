package task

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps step names to their executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]StepExecutor
}

// NewRegistry creates a registry holding the given executors.
func NewRegistry(executors ...StepExecutor) (*Registry, error) {
	r := &Registry{executors: make(map[string]StepExecutor, len(executors))}
	for _, e := range executors {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an executor under its Name.
func (r *Registry) Register(e StepExecutor) error {
	if e == nil || e.Name() == "" {
		return ErrEmptyStepName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[e.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStep, e.Name())
	}
	r.executors[e.Name()] = e
	return nil
}

// Lookup returns the executor registered under name.
func (r *Registry) Lookup(name string) (StepExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	return e, ok
}

// Names returns the registered step names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
