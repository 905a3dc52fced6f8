package service

import (
	"sort"
	"sync"
)

// Registry tracks the batch ids with a run in flight in this process.
type Registry struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{running: make(map[string]struct{})}
}

// TryAcquire marks batchID as running. It returns false if it already was.
func (r *Registry) TryAcquire(batchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[batchID]; ok {
		return false
	}
	r.running[batchID] = struct{}{}
	return true
}

func (r *Registry) Release(batchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, batchID)
}

func (r *Registry) IsRunning(batchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[batchID]
	return ok
}

// Running returns the running batch ids in sorted order.
func (r *Registry) Running() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}
