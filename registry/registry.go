// Package registry tracks in-flight streaming requests so that a later request can cancel them.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrDuplicate is returned when registering an id that is already in flight.
var ErrDuplicate = errors.New("request id already registered")

// Registry maps request ids to the cancel func of their stream.
// Each entry is added and removed by the stream that owns it; other callers only look up and fire.
type Registry struct {
	mut     sync.RWMutex
	entries map[uuid.UUID]context.CancelFunc
}

func New() *Registry {
	return &Registry{entries: map[uuid.UUID]context.CancelFunc{}}
}

// Register adds id with its cancel func.
func (r *Registry) Register(id uuid.UUID, cancel context.CancelFunc) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	if _, ok := r.entries[id]; ok {
		return ErrDuplicate
	}
	r.entries[id] = cancel
	return nil
}

// Unregister removes id. Removing an unknown id is a no-op.
func (r *Registry) Unregister(id uuid.UUID) {
	r.mut.Lock()
	defer r.mut.Unlock()
	delete(r.entries, id)
}

// Cancel fires the cancel func for id and reports whether id was in flight.
// The entry stays until its owner unregisters it.
func (r *Registry) Cancel(id uuid.UUID) bool {
	r.mut.RLock()
	cancel, ok := r.entries[id]
	r.mut.RUnlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *Registry) Contains(id uuid.UUID) bool {
	r.mut.RLock()
	defer r.mut.RUnlock()
	_, ok := r.entries[id]
	return ok
}

func (r *Registry) Len() int {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return len(r.entries)
}
