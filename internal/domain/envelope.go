package domain

import (
	"encoding/json"
	"fmt"
)

type EnvelopeType string

const (
	EnvelopeMessage  EnvelopeType = "message"
	EnvelopeTyping   EnvelopeType = "typing"
	EnvelopePresence EnvelopeType = "presence"
)

// Envelope is the process-to-process wrapper carried over the channel broker.
// OriginInstance identifies the publishing process; OriginConn, when set,
// names the connection the event originated from so local delivery can skip
// echoing it back (typing only — message envelopes are delivered to everyone,
// the sender included, and clients dedupe by message id).
type Envelope struct {
	Type           EnvelopeType    `json:"type"`
	RoomID         string          `json:"roomId"`
	Payload        json.RawMessage `json:"payload"`
	OriginInstance string          `json:"originInstanceId"`
	OriginConn     string          `json:"originConnectionId,omitempty"`
}

// NewEnvelope wraps payload for fan-out.
func NewEnvelope(t EnvelopeType, roomID, originInstance string, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s envelope: %w", t, err)
	}
	return Envelope{
		Type:           t,
		RoomID:         roomID,
		Payload:        data,
		OriginInstance: originInstance,
	}, nil
}

// DecodeEnvelope parses and validates a broker frame. Malformed envelopes
// fail fast here rather than propagating unknown data downstream.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	switch env.Type {
	case EnvelopeMessage, EnvelopeTyping, EnvelopePresence:
	default:
		return Envelope{}, fmt.Errorf("unknown envelope type %q", env.Type)
	}
	if env.RoomID == "" {
		return Envelope{}, fmt.Errorf("envelope missing roomId")
	}
	return env, nil
}

// Event converts a broker envelope into the matching client-facing event.
func (e Envelope) Event() Event {
	switch e.Type {
	case EnvelopeTyping:
		return Event{Type: EventTyping, Payload: e.Payload}
	case EnvelopePresence:
		return Event{Type: EventPresence, Payload: e.Payload}
	default:
		return Event{Type: EventMessage, Payload: e.Payload}
	}
}
