// Package registry maps user identities to their live connection.
package registry

import (
	"sync"

	"github.com/learnloop/chatrelay/internal/domain"
	"github.com/learnloop/chatrelay/internal/metrics"
)

// Registry is the in-memory identity → connection map. It never closes
// connections; it only holds and drops references.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.Identity]domain.Connection
}

var _ domain.ConnectionRegistry = (*Registry)(nil)

func New() *Registry {
	return &Registry{conns: make(map[domain.Identity]domain.Connection)}
}

// Register maps id to conn and returns the connection it replaced, if any.
// Registering the same connection twice returns nil.
func (r *Registry) Register(id domain.Identity, conn domain.Connection) domain.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.conns[id]
	r.conns[id] = conn
	metrics.RegisteredIdentities.Set(float64(len(r.conns)))
	if !ok || prev == conn {
		return nil
	}
	return prev
}

// Unregister drops id only while it still maps to conn, so a stale close
// cannot evict a newer connection.
func (r *Registry) Unregister(id domain.Identity, conn domain.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[id]; !ok || cur != conn {
		return false
	}
	delete(r.conns, id)
	metrics.RegisteredIdentities.Set(float64(len(r.conns)))
	return true
}

func (r *Registry) Lookup(id domain.Identity) (domain.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the currently registered connections.
func (r *Registry) Snapshot() []domain.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
