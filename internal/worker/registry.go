package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a stream id is not registered.
var ErrNotFound = errors.New("stream not found")

// NewStreamID mints a stream identifier: "str_" plus eight hex characters.
func NewStreamID() string {
	return "str_" + uuid.NewString()[:8]
}

// Registry tracks the live workers by stream id.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*StreamWorker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]*StreamWorker)}
}

// Add registers a worker under its stream id. Duplicate ids are rejected.
func (r *Registry) Add(w *StreamWorker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := w.Config().ID
	if _, exists := r.workers[id]; exists {
		return fmt.Errorf("stream %s already registered", id)
	}
	r.workers[id] = w
	return nil
}

// Get returns the worker for a stream id, or ErrNotFound.
func (r *Registry) Get(id string) (*StreamWorker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return w, nil
}

// List returns all registered workers in unspecified order.
func (r *Registry) List() []*StreamWorker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*StreamWorker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	return out
}

// Remove stops the worker and deletes it from the registry. Unknown ids
// return ErrNotFound and leave the registry untouched.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	w, ok := r.workers[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.workers, id)
	r.mu.Unlock()

	return w.Stop(ctx)
}

// StopAll stops every worker, used during shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	for _, w := range r.List() {
		_ = w.Stop(ctx)
	}
	r.mu.Lock()
	r.workers = make(map[string]*StreamWorker)
	r.mu.Unlock()
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}
