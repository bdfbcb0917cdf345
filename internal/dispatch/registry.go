package dispatch

import (
	"sort"
	"sync"
)

// MemRegistry is a mutex-guarded in-process Registry. Register may be called
// at any time, including while executions are in flight; because the
// dispatcher re-resolves per execution, a re-registered body takes effect on
// the next call.
type MemRegistry struct {
	mu    sync.RWMutex
	tasks map[string]TaskFunc
}

// NewMemRegistry creates an empty registry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{tasks: make(map[string]TaskFunc)}
}

// Register binds a task name to a body, replacing any previous binding.
func (r *MemRegistry) Register(name string, fn TaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = fn
}

// Unregister removes a task binding.
func (r *MemRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, name)
}

// Resolve returns the current body for a task name.
func (r *MemRegistry) Resolve(name string) (TaskFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tasks[name]
	return fn, ok
}

// Names returns the registered task names, sorted.
func (r *MemRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
