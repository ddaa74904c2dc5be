package registry

import (
	"sync"

	"github.com/alexgthegreat/StudySync-22/internal/core/contracts"
)

// Registry maps user identities to their live connection. Entries are
// transient: created when a connection joins, removed when it closes.
type Registry struct {
	mu      sync.RWMutex
	clients map[int64]contracts.Client
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[int64]contracts.Client),
	}
}

// Register stores the client under its user id, overwriting any prior
// handle (last write wins). The replaced handle is returned so the
// caller can close it.
func (r *Registry) Register(c contracts.Client) contracts.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced := r.clients[c.UserID()]
	r.clients[c.UserID()] = c
	if replaced == c {
		return nil
	}
	return replaced
}

// Unregister removes the mapping for the user if present.
func (r *Registry) Unregister(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, userID)
}

// Release removes the mapping only if it still points at c. A stale
// connection racing its replacement must not evict the new handle.
func (r *Registry) Release(c contracts.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.clients[c.UserID()]; ok && cur == c {
		delete(r.clients, c.UserID())
	}
}

// Lookup returns the current handle for the user.
func (r *Registry) Lookup(userID int64) (contracts.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[userID]
	return c, ok
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
