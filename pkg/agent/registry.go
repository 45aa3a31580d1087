package agent

import "sync"

// Registry maps agent types to runners. A type without a runner is
// unavailable, which the pipeline reports to the user.
type Registry struct {
	mu      sync.RWMutex
	runners map[Type]Runner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[Type]Runner)}
}

// Register sets the runner for t, replacing any previous one.
func (r *Registry) Register(t Type, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[t] = runner
}

// Get returns the runner for t.
func (r *Registry) Get(t Type) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[t]
	return runner, ok && runner != nil
}

// Available reports whether t has a runner.
func (r *Registry) Available(t Type) bool {
	_, ok := r.Get(t)
	return ok
}

// Len returns the number of registered runners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runners)
}
