package broker

import (
	"time"

	"github.com/google/uuid"
)

// Role is a session's privilege inside its current room.
type Role int

const (
	RoleViewer Role = iota
	RoleHost
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "viewer"
}

// Peer is the outbound side of one transport connection.
// Send must not block: it enqueues payload and reports false when the
// connection is closed or cannot take more messages.
type Peer interface {
	Send(payload []byte) bool
}

// Session is the broker's record of one live connection.
// RoomID is a back-reference only; the RoomStore owns rooms.
type Session struct {
	ID          string
	Role        Role
	RoomID      string
	ConnectedAt time.Time

	peer Peer
}

// InRoom reports whether the session has joined a room.
func (s *Session) InRoom() bool { return s.RoomID != "" }

// IsHostOf reports whether the session hosts roomID.
func (s *Session) IsHostOf(roomID string) bool {
	return s.Role == RoleHost && s.RoomID == roomID
}

// Registry tracks every live session. It has no lock of its own; the Broker
// that owns it serializes access.
type Registry struct {
	sessions map[string]*Session
	newID    func() string
	now      func() time.Time
}

// NewRegistry creates an empty registry issuing random UUID session ids.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Register creates a Viewer session outside any room and returns its id.
func (r *Registry) Register(peer Peer) string {
	id := r.newID()
	for _, taken := r.sessions[id]; taken; _, taken = r.sessions[id] {
		id = r.newID()
	}
	r.sessions[id] = &Session{
		ID:          id,
		Role:        RoleViewer,
		ConnectedAt: r.now(),
		peer:        peer,
	}
	return id
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the session record. Removing an unknown id is a no-op and
// reports false.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int { return len(r.sessions) }
