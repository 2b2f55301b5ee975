package broker

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire type tags.
const (
	TypeCreateRoom     = "create_room"
	TypeJoinRoom       = "join_room"
	TypeUploadDocument = "upload_pdf"
	TypePageChange     = "page_change"

	TypeRoomJoined     = "room_joined"
	TypeDocumentLoaded = "pdf_loaded"
	TypeError          = "error"
)

var (
	// ErrMalformed is returned for frames that are not a JSON object with a
	// string type, or whose fields have the wrong JSON types.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for well-formed frames with an unrecognized type.
	ErrUnknownType = errors.New("unknown message type")
)

// Inbound is one parsed client message. The set of variants is closed:
// CreateRoom, JoinRoom, UploadDocument and PageChange.
type Inbound interface {
	Type() string
	inbound()
}

// CreateRoom asks to create a room and become its host.
type CreateRoom struct {
	RoomID   string `json:"roomId"`
	Privacy  string `json:"privacy"`
	Password string `json:"password"`
}

// JoinRoom asks to join an existing room as a viewer.
type JoinRoom struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password"`
}

// UploadDocument announces a document the host has uploaded.
type UploadDocument struct {
	Document *Document `json:"pdf"`
}

// PageChange moves the room to another page.
type PageChange struct {
	Page int `json:"page"`
}

func (CreateRoom) Type() string     { return TypeCreateRoom }
func (JoinRoom) Type() string       { return TypeJoinRoom }
func (UploadDocument) Type() string { return TypeUploadDocument }
func (PageChange) Type() string     { return TypePageChange }

func (CreateRoom) inbound()     {}
func (JoinRoom) inbound()       {}
func (UploadDocument) inbound() {}
func (PageChange) inbound()     {}

// ParseEnvelope decodes a text frame into one of the Inbound variants.
func ParseEnvelope(data []byte) (Inbound, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	var (
		msg Inbound
		err error
	)
	switch *head.Type {
	case TypeCreateRoom:
		var m CreateRoom
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeJoinRoom:
		var m JoinRoom
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeUploadDocument:
		var m UploadDocument
		err = json.Unmarshal(data, &m)
		msg = m
	case TypePageChange:
		var m PageChange
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, *head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, *head.Type, err)
	}
	return msg, nil
}

// RoomJoined confirms a create or join to the requesting session.
type RoomJoined struct {
	Type    string  `json:"type"`
	RoomID  string  `json:"roomId"`
	IsHost  bool    `json:"isHost"`
	Privacy Privacy `json:"privacy"`
}

// DocumentLoaded tells members which document is shown and at which page.
type DocumentLoaded struct {
	Type     string   `json:"type"`
	Document Document `json:"pdf"`
	Page     int      `json:"page"`
}

// PageChanged tells viewers the host moved to another page.
type PageChanged struct {
	Type string `json:"type"`
	Page int    `json:"page"`
}

// ErrorReply reports a rejected request to the requesting session only.
type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newRoomJoined(r *Room, host bool) RoomJoined {
	return RoomJoined{Type: TypeRoomJoined, RoomID: r.ID, IsHost: host, Privacy: r.Privacy}
}

func newDocumentLoaded(doc Document, page int) DocumentLoaded {
	return DocumentLoaded{Type: TypeDocumentLoaded, Document: doc, Page: page}
}

func newPageChanged(page int) PageChanged {
	return PageChanged{Type: TypePageChange, Page: page}
}

func newErrorReply(msg string) ErrorReply {
	return ErrorReply{Type: TypeError, Message: msg}
}
