package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := NewEnvelope(EnvelopeMessage, "r1", "inst-a", Message{ID: "m1", RoomID: "r1"})
	assert.NoError(t, err)

	data, err := json.Marshal(env)
	assert.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	assert.NoError(t, err)
	assert.Equal(t, EnvelopeMessage, decoded.Type)
	assert.Equal(t, "r1", decoded.RoomID)
	assert.Equal(t, "inst-a", decoded.OriginInstance)
}

func TestDecodeEnvelopeRejectsMalformedFrames(t *testing.T) {
	_, err := DecodeEnvelope([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"type":"bogus","roomId":"r1","payload":{}}`))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"type":"message","payload":{}}`))
	assert.Error(t, err, "missing roomId must be rejected")
}

func TestEnvelopeEventMapping(t *testing.T) {
	for env, want := range map[EnvelopeType]EventType{
		EnvelopeMessage:  EventMessage,
		EnvelopeTyping:   EventTyping,
		EnvelopePresence: EventPresence,
	} {
		ev := Envelope{Type: env, RoomID: "r1"}.Event()
		assert.Equal(t, want, ev.Type)
	}
}
