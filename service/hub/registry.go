package hub

import (
	"sync"
)

// Registry is the live table of open transports and their identity metadata.
// Invariant: an entry exists exactly while its transport is open; the read
// loop removes it synchronously on close or error.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*Conn           // conn_id -> conn
	byUser map[int64]map[string]*Conn // user -> conn_id -> conn (multi-device)
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*Conn),
		byUser: make(map[int64]map[string]*Conn),
	}
}

// Register adds an unauthenticated entry. Idempotent per connection.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[c.ID] = c
}

// Authenticate mutates the entry's identity fields and moves it under the
// user index. The hub does not validate the identity against any credential
// store; that is the transport-establishment collaborator's job.
func (r *Registry) Authenticate(c *Conn, p AuthPayload) {
	prev, _, _ := c.identity()
	c.setIdentity(p)

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev != 0 && prev != p.UserID {
		// Login swapped the active user on this device.
		if m := r.byUser[prev]; m != nil {
			delete(m, c.ID)
			if len(m) == 0 {
				delete(r.byUser, prev)
			}
		}
	}
	m := r.byUser[p.UserID]
	if m == nil {
		m = make(map[string]*Conn)
		r.byUser[p.UserID] = m
	}
	m[c.ID] = c
}

// Remove deletes the entry. Safe to call twice.
func (r *Registry) Remove(c *Conn) {
	uid, _, _ := c.identity()

	r.mu.Lock()
	defer r.mu.Unlock()
	if uid != 0 {
		if m := r.byUser[uid]; m != nil {
			delete(m, c.ID)
			if len(m) == 0 {
				delete(r.byUser, uid)
			}
		}
	}
	delete(r.byConn, c.ID)
}

// Snapshot returns the connections matching pred at call time. Sends happen
// against the copy, outside the lock, so a blocking write can never stall
// registry mutation and an entry removed mid-broadcast is simply skipped.
func (r *Registry) Snapshot(pred func(*Conn) bool) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.byConn))
	for _, c := range r.byConn {
		if pred == nil || pred(c) {
			out = append(out, c)
		}
	}
	return out
}

// ListByUser returns every open connection for a user (multi-device).
func (r *Registry) ListByUser(userID int64) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byUser[userID]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
