package gateway

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/fanout"
)

// Registry holds every live session and its room memberships. A room is
// a logical recipient group keyed by a user or driver id; one identity
// may have several connections (phone plus web).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session            // connID -> session
	rooms    map[string]map[string]struct{} // roomID -> set of connIDs
	joined   map[string][]string            // connID -> rooms, for cleanup
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]struct{}),
		joined:   make(map[string][]string),
	}
}

func (r *Registry) Add(connID string, conn *websocket.Conn) *Session {
	s := &Session{id: connID, conn: conn}
	r.mu.Lock()
	r.sessions[connID] = s
	r.mu.Unlock()
	return s
}

// Remove drops the session and clears all of its room memberships.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.joined[connID] {
		if members, ok := r.rooms[room]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
	delete(r.joined, connID)
	delete(r.sessions, connID)
}

// Join binds a connection into a room. Joining twice is harmless.
func (r *Registry) Join(roomID, connID string) {
	if roomID == "" || connID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[connID]; !ok {
		return
	}
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]struct{})
	}
	if _, already := r.rooms[roomID][connID]; !already {
		r.rooms[roomID][connID] = struct{}{}
		r.joined[connID] = append(r.joined[connID], roomID)
	}
}

// All implements fanout.ConnSource.
func (r *Registry) All() []fanout.Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]fanout.Sender, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Room implements fanout.ConnSource.
func (r *Registry) Room(id string) []fanout.Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []fanout.Sender
	for connID := range r.rooms[id] {
		if s, ok := r.sessions[connID]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Connection implements fanout.ConnSource.
func (r *Registry) Connection(ref string) (fanout.Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[ref]
	return s, ok
}

// Count reports open sessions, for the status log and metrics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll tears down every session during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.rooms = make(map[string]map[string]struct{})
	r.joined = make(map[string][]string)
	r.mu.Unlock()
	for _, s := range sessions {
		_ = s.close()
	}
}
