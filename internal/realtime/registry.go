package realtime

import "sync"

// Registry maps each user to their single live connection.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Conn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]Conn)}
}

// Register makes conn the user's live connection and returns the connection
// it displaced, if any. Last connect wins.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.byUser[userID]
	r.byUser[userID] = conn
	if prev != nil && prev.ID() == conn.ID() {
		return nil
	}
	return prev
}

// Unregister removes the user's entry only if it still points at conn, so a
// stale disconnect cannot clobber a newer connection. It reports whether the
// entry was removed.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byUser[userID]
	if !ok || cur.ID() != conn.ID() {
		return false
	}
	delete(r.byUser, userID)
	return true
}

// Lookup returns the user's live connection.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// Online returns the IDs of every connected user.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of connected users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// snapshot returns every live connection except the given user's.
func (r *Registry) snapshot(exceptUserID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.byUser))
	for id, c := range r.byUser {
		if id != exceptUserID {
			out = append(out, c)
		}
	}
	return out
}
