// Package registry holds the name-keyed mapping from client name to
// handle. Broadcast and subscription membership are separate indexes
// (see internal/matcher) kept in step with this one by internal/broker.
package registry

import (
	"errors"
	"sort"
	"sync"
)

// ErrBusy is returned by Register when name is already taken.
var ErrBusy = errors.New("registry: name already in use")

// Registry is a name -> Handle map guarded by a single readers-writer
// lock, short critical sections, never held across a channel send.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Handle
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{clients: make(map[string]*Handle)}
}

// Register installs handle under its Name. Fails with ErrBusy if the
// name already exists; the install is atomic with respect to Lookup.
func (r *Registry) Register(handle *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[handle.Name]; exists {
		return ErrBusy
	}
	r.clients[handle.Name] = handle
	return nil
}

// Unregister removes the handle for name. Idempotent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, name)
}

// Lookup returns the handle registered under name, if any.
func (r *Registry) Lookup(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.clients[name]
	return h, ok
}

// Enumerate returns a name-sorted snapshot of all currently registered
// handles, for the administration surface.
func (r *Registry) Enumerate() []*Handle {
	r.mu.RLock()
	out := make([]*Handle, 0, len(r.clients))
	for _, h := range r.clients {
		out = append(out, h)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
