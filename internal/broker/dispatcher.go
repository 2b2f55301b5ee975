package broker

import (
	"encoding/json"
	"log/slog"

	"github.com/cortexuvula/pagesync/internal/metrics"
	"github.com/cortexuvula/pagesync/internal/security"
)

// Rejection messages sent in error replies.
const (
	MsgInvalidRoomID    = "room id must contain only letters and digits"
	MsgRoomExists       = "room already exists"
	MsgInvalidPrivacy   = "invalid privacy setting"
	MsgPasswordRequired = "a password is required for a private room"
	MsgRoomNotFound     = "room does not exist"
	MsgWrongPassword    = "incorrect password"
	MsgNotHost          = "only the host can upload a document"
	MsgMissingDocument  = "document reference is required"
)

// Reasons attached to dropped messages.
const (
	DropNotHost     = "not_host"
	DropNoRoom      = "no_room"
	DropNoDocument  = "no_document"
	DropInvalidPage = "invalid_page"
)

// Outcome classifies what Dispatch did with a message.
type Outcome int

const (
	// OutcomeIgnored means the message was not handled at all.
	OutcomeIgnored Outcome = iota
	// OutcomeReplied means state changed and only the sender was answered.
	OutcomeReplied
	// OutcomeRejected means an error reply was sent and no state changed.
	OutcomeRejected
	// OutcomeBroadcast means state changed and room members were notified.
	OutcomeBroadcast
	// OutcomeDropped means the message was silently discarded.
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReplied:
		return "replied"
	case OutcomeRejected:
		return "rejected"
	case OutcomeBroadcast:
		return "broadcast"
	case OutcomeDropped:
		return "dropped"
	default:
		return "ignored"
	}
}

// Result describes one dispatched message. Reason holds the error text for
// rejections and the drop reason for drops. Delivered counts the sends that
// were accepted by peers.
type Result struct {
	Outcome   Outcome
	Reason    string
	Delivered int
}

// Dispatcher applies inbound messages to the registry and room store and
// fans out the results. It is not safe for concurrent use; Broker holds the
// lock around every call.
type Dispatcher struct {
	sessions *Registry
	rooms    *RoomStore
	metrics  *metrics.Metrics
}

// NewDispatcher creates a dispatcher over the given registry and room store.
func NewDispatcher(sessions *Registry, rooms *RoomStore) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		rooms:    rooms,
	}
}

// Dispatch handles msg from the session with the given id.
func (d *Dispatcher) Dispatch(sessionID string, msg Inbound) Result {
	s, ok := d.sessions.Get(sessionID)
	if !ok {
		return Result{Outcome: OutcomeIgnored}
	}
	if d.metrics != nil {
		d.metrics.MessagesTotal.WithLabelValues(msg.Type()).Inc()
	}

	switch m := msg.(type) {
	case CreateRoom:
		return d.createRoom(s, m)
	case JoinRoom:
		return d.joinRoom(s, m)
	case UploadDocument:
		return d.uploadDocument(s, m)
	case PageChange:
		return d.pageChange(s, m)
	default:
		return Result{Outcome: OutcomeIgnored}
	}
}

func (d *Dispatcher) createRoom(s *Session, m CreateRoom) Result {
	if !ValidRoomID(m.RoomID) {
		return d.reject(s, MsgInvalidRoomID)
	}
	if _, exists := d.rooms.Get(m.RoomID); exists {
		return d.reject(s, MsgRoomExists)
	}
	privacy, ok := ParsePrivacy(m.Privacy)
	if !ok {
		return d.reject(s, MsgInvalidPrivacy)
	}
	var password string
	if privacy == PrivacyPrivate {
		password = security.NormalizePassword(m.Password)
		if password == "" {
			return d.reject(s, MsgPasswordRequired)
		}
	}

	d.leave(s)
	room, _ := d.rooms.CreateOrGet(m.RoomID, privacy, password)
	d.rooms.AddMember(room.ID, s.ID)
	s.Role = RoleHost
	s.RoomID = room.ID

	slog.Info("room created", "room", room.ID, "session", s.ID, "privacy", room.Privacy)
	n := d.reply(s, newRoomJoined(room, true))
	if room.Document != nil {
		n += d.reply(s, newDocumentLoaded(*room.Document, room.CurrentPage))
	}
	return Result{Outcome: OutcomeReplied, Delivered: n}
}

func (d *Dispatcher) joinRoom(s *Session, m JoinRoom) Result {
	if !ValidRoomID(m.RoomID) {
		return d.reject(s, MsgInvalidRoomID)
	}
	room, ok := d.rooms.Get(m.RoomID)
	if !ok {
		return d.reject(s, MsgRoomNotFound)
	}
	if room.Privacy == PrivacyPrivate && !security.PasswordMatch(m.Password, room.password) {
		return d.reject(s, MsgWrongPassword)
	}

	if s.RoomID != room.ID {
		d.leave(s)
	}
	d.rooms.AddMember(room.ID, s.ID)
	s.Role = RoleViewer
	s.RoomID = room.ID

	slog.Info("room joined", "room", room.ID, "session", s.ID, "members", room.MemberCount())
	n := d.reply(s, newRoomJoined(room, false))
	if room.Document != nil {
		n += d.reply(s, newDocumentLoaded(*room.Document, room.CurrentPage))
	}
	return Result{Outcome: OutcomeReplied, Delivered: n}
}

func (d *Dispatcher) uploadDocument(s *Session, m UploadDocument) Result {
	if !s.InRoom() || s.Role != RoleHost {
		return d.reject(s, MsgNotHost)
	}
	room, ok := d.rooms.Get(s.RoomID)
	if !ok {
		return d.reject(s, MsgNotHost)
	}
	if m.Document == nil || m.Document.Filename == "" {
		return d.reject(s, MsgMissingDocument)
	}

	doc := *m.Document
	room.Document = &doc
	room.CurrentPage = 1

	slog.Info("document loaded", "room", room.ID, "filename", doc.Filename)
	n := d.broadcastAll(room, newDocumentLoaded(doc, 1))
	return Result{Outcome: OutcomeBroadcast, Delivered: n}
}

func (d *Dispatcher) pageChange(s *Session, m PageChange) Result {
	if !s.InRoom() || s.Role != RoleHost {
		return d.drop(s, DropNotHost)
	}
	room, ok := d.rooms.Get(s.RoomID)
	if !ok {
		return d.drop(s, DropNoRoom)
	}
	if room.Document == nil {
		return d.drop(s, DropNoDocument)
	}
	if m.Page < 1 {
		return d.drop(s, DropInvalidPage)
	}

	room.CurrentPage = m.Page
	n := d.broadcastNonHost(room, newPageChanged(m.Page))
	return Result{Outcome: OutcomeBroadcast, Delivered: n}
}

// leave detaches s from its current room, deleting the room if it empties.
func (d *Dispatcher) leave(s *Session) {
	if !s.InRoom() {
		return
	}
	if d.rooms.RemoveMember(s.RoomID, s.ID) {
		slog.Info("room deleted", "room", s.RoomID)
	}
	s.RoomID = ""
	s.Role = RoleViewer
}

func (d *Dispatcher) reject(s *Session, message string) Result {
	slog.Debug("request rejected", "session", s.ID, "reason", message)
	d.reply(s, newErrorReply(message))
	return Result{Outcome: OutcomeRejected, Reason: message}
}

func (d *Dispatcher) drop(s *Session, reason string) Result {
	slog.Debug("message dropped", "session", s.ID, "reason", reason)
	return Result{Outcome: OutcomeDropped, Reason: reason}
}

// reply sends msg to s alone and returns 1 if the peer accepted it.
func (d *Dispatcher) reply(s *Session, msg any) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to encode reply", "error", err)
		return 0
	}
	return d.deliver(s, payload)
}

// broadcastAll sends msg to every member of room.
func (d *Dispatcher) broadcastAll(room *Room, msg any) int {
	return d.fanOut(room, msg, "all", func(*Session) bool { return true })
}

// broadcastNonHost sends msg to every member of room except its host.
func (d *Dispatcher) broadcastNonHost(room *Room, msg any) int {
	return d.fanOut(room, msg, "viewers", func(s *Session) bool { return !s.IsHostOf(room.ID) })
}

// fanOut encodes msg once and enqueues it to each selected member. A member
// whose send fails is skipped; the rest still receive the message.
func (d *Dispatcher) fanOut(room *Room, msg any, scope string, include func(*Session) bool) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to encode broadcast", "room", room.ID, "error", err)
		return 0
	}
	if d.metrics != nil {
		d.metrics.BroadcastsTotal.WithLabelValues(scope).Inc()
	}

	delivered := 0
	for id := range room.members {
		s, ok := d.sessions.Get(id)
		if !ok || !include(s) {
			continue
		}
		delivered += d.deliver(s, payload)
	}
	return delivered
}

func (d *Dispatcher) deliver(s *Session, payload []byte) int {
	if s.peer == nil || !s.peer.Send(payload) {
		if d.metrics != nil {
			d.metrics.DroppedTotal.WithLabelValues("send_failed").Inc()
		}
		slog.Debug("send skipped", "session", s.ID)
		return 0
	}
	return 1
}
