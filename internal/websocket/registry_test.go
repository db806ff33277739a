package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/locachat/chatsync/internal/domain"
	"github.com/locachat/chatsync/pkg/logger"
)

func newTestConn(t *testing.T, r *Registry, id, userID string) *Connection {
	t.Helper()
	c := NewConnection(id, domain.Principal{UserID: userID}, nil, r, nil, logger.NewLogger("error", ""))
	r.Register(c)
	return c
}

func drain(c *Connection) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev := <-c.send:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	r := NewRegistry(logger.NewLogger("error", ""))
	c := newTestConn(t, r, "c1", "u1")

	r.Join("r1", c.id)
	r.Join("r1", c.id)
	assert.True(t, r.HasJoined("r1", c.id))

	r.DeliverLocal("r1", domain.Event{Type: domain.EventMessage}, "")
	assert.Len(t, drain(c), 1, "double join must not cause double delivery")
}

func TestDeliverLocalExcludesOriginator(t *testing.T) {
	r := NewRegistry(logger.NewLogger("error", ""))
	a := newTestConn(t, r, "ca", "ua")
	b := newTestConn(t, r, "cb", "ub")
	r.Join("r1", a.id)
	r.Join("r1", b.id)

	r.DeliverLocal("r1", domain.Event{Type: domain.EventTyping}, a.id)

	assert.Empty(t, drain(a))
	assert.Len(t, drain(b), 1)
}

func TestDeliverLocalSkipsOtherRooms(t *testing.T) {
	r := NewRegistry(logger.NewLogger("error", ""))
	a := newTestConn(t, r, "ca", "ua")
	b := newTestConn(t, r, "cb", "ub")
	r.Join("r1", a.id)
	r.Join("r2", b.id)

	r.DeliverLocal("r1", domain.Event{Type: domain.EventMessage}, "")

	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b))
}

func TestUnregisterReleasesAllRoomsAtomically(t *testing.T) {
	r := NewRegistry(logger.NewLogger("error", ""))
	c := newTestConn(t, r, "c1", "u1")
	r.Join("r1", c.id)
	r.Join("r2", c.id)
	r.Join("r3", c.id)

	r.Unregister(c.id)

	for _, roomID := range []string{"r1", "r2", "r3"} {
		assert.False(t, r.HasJoined(roomID, c.id))
	}
	assert.Empty(t, r.Rooms(c.id))

	// Delivery after unregister is a no-op, not a panic.
	r.DeliverLocal("r1", domain.Event{Type: domain.EventMessage}, "")
}

func TestReleaseAllReturnsJoinedRooms(t *testing.T) {
	r := NewRegistry(logger.NewLogger("error", ""))
	c := newTestConn(t, r, "c1", "u1")
	r.Join("r1", c.id)
	r.Join("r2", c.id)

	rooms := r.ReleaseAll(c.id)
	assert.ElementsMatch(t, []string{"r1", "r2"}, rooms)
	assert.Empty(t, r.ReleaseAll(c.id), "second release finds nothing")
}

func TestSlowConnectionIsDropped(t *testing.T) {
	r := NewRegistry(logger.NewLogger("error", ""))
	c := newTestConn(t, r, "c1", "u1")
	r.Join("r1", c.id)

	// Fill the send buffer so the next delivery cannot be queued.
	for i := 0; i < cap(c.send); i++ {
		c.send <- domain.Event{Type: domain.EventMessage}
	}
	r.DeliverLocal("r1", domain.Event{Type: domain.EventMessage}, "")

	assert.False(t, r.HasJoined("r1", c.id))
	assert.True(t, c.closed)
}

func TestSendEventAfterUnregisterIsNoOp(t *testing.T) {
	r := NewRegistry(logger.NewLogger("error", ""))
	c := newTestConn(t, r, "c1", "u1")
	r.Unregister(c.id)

	assert.NotPanics(t, func() {
		c.SendEvent(domain.Event{Type: domain.EventMessage})
	})
}
