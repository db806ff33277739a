package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	// Client → server.
	EventJoinRoom    EventType = "join_room"
	EventLeaveRoom   EventType = "leave_room"
	EventSendMessage EventType = "send_message"
	EventHistory     EventType = "history"

	// Both directions: client emits typing state, server broadcasts it.
	EventTyping EventType = "typing"

	// Server → client.
	EventMessage  EventType = "message"
	EventPresence EventType = "presence"
	EventError    EventType = "error"
)

// Event is the wire frame for both directions. The payload is a tagged
// union keyed by Type and is validated on receipt, never passed through raw.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event of the given type.
func NewEvent(t EventType, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s payload: %w", t, err)
	}
	return Event{Type: t, Payload: data}, nil
}

// MustEvent is NewEvent for payload types that cannot fail to marshal.
func MustEvent(t EventType, payload interface{}) Event {
	ev, err := NewEvent(t, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

type SendMessagePayload struct {
	RoomID      string      `json:"roomId"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"contentType,omitempty"`
}

type TypingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type HistoryRequest struct {
	RoomID string     `json:"roomId"`
	Before *time.Time `json:"before,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

type HistoryPage struct {
	RoomID   string    `json:"roomId"`
	Messages []Message `json:"messages"`
}

// DecodePayload unmarshals the event payload into dst and rejects malformed
// frames at the boundary instead of letting them reach application logic.
func (e Event) DecodePayload(dst interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("malformed %s payload: %w", e.Type, err)
	}
	return nil
}

func (p JoinRoomPayload) Validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("roomId is required")
	}
	return nil
}

func (p LeaveRoomPayload) Validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("roomId is required")
	}
	return nil
}

func (p SendMessagePayload) Validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("roomId is required")
	}
	if !ValidContentType(p.ContentType) {
		return fmt.Errorf("unknown content type %q", p.ContentType)
	}
	return nil
}

func (p TypingPayload) Validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("roomId is required")
	}
	return nil
}

func (p HistoryRequest) Validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("roomId is required")
	}
	if p.Limit < 0 {
		return fmt.Errorf("limit must be non-negative")
	}
	return nil
}
