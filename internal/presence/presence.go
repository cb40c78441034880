// Package presence tracks which realtime connection belongs to which
// authenticated user. A connection handle binds to at most one user; a
// user may hold any number of connections (multiple tabs or devices).
package presence

import "sync"

// Registry is a bidirectional connection-to-user map. All operations are
// total: registering over an existing binding replaces it, deregistering
// or looking up an absent key is a no-op.
type Registry struct {
	mu    sync.RWMutex
	users map[string]string              // connection id -> user id
	conns map[string]map[string]struct{} // user id -> connection ids
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]string),
		conns: make(map[string]map[string]struct{}),
	}
}

// Register binds a connection to a user, replacing any prior binding for
// that connection. Handles are not reused in practice, but replacement
// keeps the call safe if one ever is.
func (r *Registry) Register(connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.users[connID]; ok {
		r.removeLocked(connID, prev)
	}

	r.users[connID] = userID
	if r.conns[userID] == nil {
		r.conns[userID] = make(map[string]struct{})
	}
	r.conns[userID][connID] = struct{}{}
}

// Deregister removes the binding for a connection. No-op if absent.
func (r *Registry) Deregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.users[connID]
	if !ok {
		return
	}
	r.removeLocked(connID, userID)
}

func (r *Registry) removeLocked(connID, userID string) {
	delete(r.users, connID)
	if set, ok := r.conns[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.conns, userID)
		}
	}
}

// ConnectionsFor returns a snapshot of all connections currently bound to
// the user. Empty slice if the user has no open realtime channel.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.conns[userID]
	out := make([]string, 0, len(set))
	for connID := range set {
		out = append(out, connID)
	}
	return out
}

// UserFor returns the user a connection is bound to, if any.
func (r *Registry) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.users[connID]
	return userID, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
