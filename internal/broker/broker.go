package broker

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/cortexuvula/pagesync/internal/metrics"
)

// Broker owns the session registry and room store and serializes every
// operation on them behind one mutex.
type Broker struct {
	mu         sync.Mutex
	sessions   *Registry
	rooms      *RoomStore
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
}

// New creates a broker with an empty registry and room store.
func New() *Broker {
	sessions := NewRegistry()
	rooms := NewRoomStore()
	return &Broker{
		sessions:   sessions,
		rooms:      rooms,
		dispatcher: NewDispatcher(sessions, rooms),
	}
}

// SetMetrics attaches metrics. Passing nil disables them.
func (b *Broker) SetMetrics(m *metrics.Metrics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = m
	b.dispatcher.metrics = m
}

// Connect registers a new session for peer and returns its id.
func (b *Broker) Connect(peer Peer) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions.Register(peer)
}

// Disconnect tears down the session: it leaves its room, deleting the room if
// it empties, and the session record is removed. Only the first call for an
// id has any effect; it reports whether this call performed the teardown.
func (b *Broker) Disconnect(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions.Get(sessionID)
	if !ok {
		return false
	}
	if s.InRoom() {
		roomID := s.RoomID
		if b.rooms.RemoveMember(roomID, s.ID) {
			slog.Info("room deleted", "room", roomID)
		}
	}
	b.sessions.Remove(sessionID)
	b.updateRoomGauge()
	return true
}

// Dispatch applies a parsed message from sessionID.
func (b *Broker) Dispatch(sessionID string, msg Inbound) Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := b.dispatcher.Dispatch(sessionID, msg)
	b.updateRoomGauge()
	return res
}

// HandleMessage parses a raw frame and dispatches it. Frames that fail to
// parse are returned as an error with an OutcomeIgnored result; nothing is
// sent back to the client for them.
func (b *Broker) HandleMessage(sessionID string, data []byte) (Result, error) {
	msg, err := ParseEnvelope(data)
	if err != nil {
		if b.metrics != nil {
			kind := "malformed"
			if errors.Is(err, ErrUnknownType) {
				kind = "unknown_type"
			}
			b.metrics.ErrorsTotal.WithLabelValues(kind).Inc()
		}
		return Result{Outcome: OutcomeIgnored}, err
	}
	return b.Dispatch(sessionID, msg), nil
}

// Rooms returns the room listing, newest first.
func (b *Broker) Rooms() []RoomSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rooms.List()
}

// SessionCount returns the number of live sessions.
func (b *Broker) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions.Len()
}

// RoomCount returns the number of live rooms.
func (b *Broker) RoomCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rooms.Len()
}

// SessionInfo returns a copy of the session record.
func (b *Broker) SessionInfo(sessionID string) (Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions.Get(sessionID)
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (b *Broker) updateRoomGauge() {
	if b.metrics != nil {
		b.metrics.ActiveRooms.Set(float64(b.rooms.Len()))
	}
}
