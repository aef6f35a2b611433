package core

import (
	"sync"
	"time"
)

// Registry maps user ids to their live connections and derives presence from
// the connection count: a user is online iff at least one connection exists.
// It is safe for concurrent use; presence reads come from HTTP handlers while
// the hub loop mutates bindings.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[string]map[*Client]struct{}
	lastSeen map[string]time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser:   make(map[string]map[*Client]struct{}),
		lastSeen: make(map[string]time.Time),
	}
}

// Add binds a connection to its user. Returns true if this is the user's
// first live connection (offline -> online transition).
func (r *Registry) Add(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.byUser[c.UserID]
	if !ok {
		conns = make(map[*Client]struct{})
		r.byUser[c.UserID] = conns
	}
	first := len(conns) == 0
	conns[c] = struct{}{}
	return first
}

// Remove unbinds a connection. Returns true if the user has no connections
// left (online -> offline transition); last seen is stamped in that case.
func (r *Registry) Remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.byUser[c.UserID]
	if !ok {
		return false
	}
	if _, bound := conns[c]; !bound {
		return false
	}
	delete(conns, c)
	if len(conns) > 0 {
		return false
	}
	delete(r.byUser, c.UserID)
	r.lastSeen[c.UserID] = time.Now()
	return true
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// LastSeen returns the timestamp of the user's last offline transition. The
// zero time means the user was never seen by this process.
func (r *Registry) LastSeen(userID string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSeen[userID]
}

// ConnectionsOf returns a snapshot of the user's live connections.
func (r *Registry) ConnectionsOf(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Client, 0, len(r.byUser[userID]))
	for c := range r.byUser[userID] {
		conns = append(conns, c)
	}
	return conns
}

// Online returns a snapshot of all user ids with at least one connection.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	return users
}
