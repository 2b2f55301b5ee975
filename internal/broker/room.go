package broker

import (
	"regexp"
	"sort"
	"time"
)

// Privacy controls whether joining a room requires its password.
type Privacy string

const (
	PrivacyPublic  Privacy = "public"
	PrivacyPrivate Privacy = "private"
)

// ParsePrivacy maps the wire value to a Privacy. An empty value means public.
func ParsePrivacy(s string) (Privacy, bool) {
	switch s {
	case "", string(PrivacyPublic):
		return PrivacyPublic, true
	case string(PrivacyPrivate):
		return PrivacyPrivate, true
	default:
		return "", false
	}
}

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ValidRoomID reports whether id is a non-empty ASCII alphanumeric string.
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// Document is the opaque reference to an uploaded file.
type Document struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
}

// Room is one shared viewing context.
type Room struct {
	ID          string
	Document    *Document
	CurrentPage int
	Privacy     Privacy
	CreatedAt   time.Time

	password string
	members  map[string]struct{}
	seq      uint64
}

// HasMember reports whether sessionID is in the room.
func (r *Room) HasMember(sessionID string) bool {
	_, ok := r.members[sessionID]
	return ok
}

// MemberCount returns the number of joined sessions.
func (r *Room) MemberCount() int { return len(r.members) }

// RoomSummary is the public listing view of a room. It never carries the password.
type RoomSummary struct {
	RoomID      string    `json:"roomId"`
	Privacy     Privacy   `json:"privacy"`
	ClientCount int       `json:"clientCount"`
	HasPDF      bool      `json:"hasPdf"`
	CreatedAt   time.Time `json:"createdAt"`

	seq uint64
}

// RoomStore owns every Room record. Like Registry it relies on the owning
// Broker for serialization.
type RoomStore struct {
	rooms map[string]*Room
	seq   uint64
	now   func() time.Time
}

// NewRoomStore creates an empty store.
func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*Room),
		now:   time.Now,
	}
}

// CreateOrGet returns the room with id, creating it with no members, no
// document and page 1 if absent. An existing room is returned untouched.
func (s *RoomStore) CreateOrGet(id string, privacy Privacy, password string) (*Room, bool) {
	if r, ok := s.rooms[id]; ok {
		return r, false
	}
	s.seq++
	r := &Room{
		ID:          id,
		CurrentPage: 1,
		Privacy:     privacy,
		CreatedAt:   s.now(),
		members:     make(map[string]struct{}),
		seq:         s.seq,
	}
	if privacy == PrivacyPrivate {
		r.password = password
	}
	s.rooms[id] = r
	return r, true
}

// Get looks up a room by id.
func (s *RoomStore) Get(id string) (*Room, bool) {
	r, ok := s.rooms[id]
	return r, ok
}

// AddMember adds sessionID to the room. It reports false if the room does not exist.
func (s *RoomStore) AddMember(id, sessionID string) bool {
	r, ok := s.rooms[id]
	if !ok {
		return false
	}
	r.members[sessionID] = struct{}{}
	return true
}

// RemoveMember removes sessionID from the room and deletes the room in the
// same step once it has no members left. It reports whether the room was deleted.
func (s *RoomStore) RemoveMember(id, sessionID string) bool {
	r, ok := s.rooms[id]
	if !ok {
		return false
	}
	delete(r.members, sessionID)
	if len(r.members) == 0 {
		delete(s.rooms, id)
		return true
	}
	return false
}

// List returns summaries of all rooms, most recently created first.
func (s *RoomStore) List() []RoomSummary {
	out := make([]RoomSummary, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, RoomSummary{
			RoomID:      r.ID,
			Privacy:     r.Privacy,
			ClientCount: len(r.members),
			HasPDF:      r.Document != nil,
			CreatedAt:   r.CreatedAt,
			seq:         r.seq,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].seq > out[j].seq
	})
	return out
}

// Len returns the number of live rooms.
func (s *RoomStore) Len() int { return len(s.rooms) }
