package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/locachat/chatsync/internal/domain"
	"github.com/locachat/chatsync/pkg/logger"
	"github.com/locachat/chatsync/service"
)

// Connection is one authenticated WebSocket attached to this process. It is
// owned exclusively by the process that accepted it.
type Connection struct {
	id        string
	principal domain.Principal
	ws        *websocket.Conn
	send      chan domain.Event
	registry  *Registry
	gateway   service.Gateway
	logg      logger.Logger

	mu     sync.Mutex
	closed bool
}

func NewConnection(id string, principal domain.Principal, ws *websocket.Conn,
	registry *Registry, gateway service.Gateway, logg logger.Logger) *Connection {
	return &Connection{
		id:        id,
		principal: principal,
		ws:        ws,
		send:      make(chan domain.Event, 256),
		registry:  registry,
		gateway:   gateway,
		logg: logg.WithFields(map[string]interface{}{
			"conn": id,
			"user": principal.UserID,
		}),
	}
}

func (c *Connection) ID() string                  { return c.id }
func (c *Connection) Principal() domain.Principal { return c.principal }

// SendEvent queues an event for the write pump. A full buffer drops the
// event; the registry's slow-consumer handling will drop the connection on
// the broadcast path. Sending to an already-unregistered connection is a
// no-op.
func (c *Connection) SendEvent(ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- ev:
	default:
		c.logg.Warnf("send buffer full, dropping %s event", ev.Type)
	}
}

// trySend reports whether the event could be queued. A closed connection
// swallows the event; only a full buffer counts as failure.
func (c *Connection) trySend(ev domain.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// closeSend shuts the outbound channel exactly once.
func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump consumes client frames until the socket closes, dispatching each
// validated event to the gateway. On exit it releases all room memberships
// and unregisters the connection.
func (c *Connection) ReadPump(ctx context.Context) {
	defer func() {
		if err := c.gateway.Disconnect(ctx, c); err != nil {
			c.logg.Errorf("disconnect cleanup failed: %v", err)
		}
		c.registry.Unregister(c.id)
		c.ws.Close()
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logg.Errorf("read error: %v", err)
			}
			return
		}
		c.dispatch(ctx, data)
	}
}

// dispatch validates one frame as a tagged union and routes it. Malformed
// frames are answered with a structured error event, never acted on.
func (c *Connection) dispatch(ctx context.Context, data []byte) {
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.rejectFrame("frame is not valid JSON", err)
		return
	}

	var opErr error
	switch ev.Type {
	case domain.EventJoinRoom:
		var p domain.JoinRoomPayload
		if err := decodeValid(ev, &p); err != nil {
			c.rejectFrame(err.Error(), err)
			return
		}
		opErr = c.gateway.JoinRoom(ctx, c, p.RoomID)

	case domain.EventLeaveRoom:
		var p domain.LeaveRoomPayload
		if err := decodeValid(ev, &p); err != nil {
			c.rejectFrame(err.Error(), err)
			return
		}
		opErr = c.gateway.LeaveRoom(ctx, c, p.RoomID)

	case domain.EventSendMessage:
		var p domain.SendMessagePayload
		if err := decodeValid(ev, &p); err != nil {
			c.rejectFrame(err.Error(), err)
			return
		}
		opErr = c.gateway.SendMessage(ctx, c, p)

	case domain.EventTyping:
		var p domain.TypingPayload
		if err := decodeValid(ev, &p); err != nil {
			c.rejectFrame(err.Error(), err)
			return
		}
		opErr = c.gateway.Typing(ctx, c, p)

	case domain.EventHistory:
		var p domain.HistoryRequest
		if err := decodeValid(ev, &p); err != nil {
			c.rejectFrame(err.Error(), err)
			return
		}
		opErr = c.gateway.History(ctx, c, p)

	default:
		c.rejectFrame("unknown event type "+string(ev.Type), nil)
		return
	}

	if opErr != nil {
		// Already reported to this connection by the gateway; log only.
		c.logg.Debugf("%s rejected: %v", ev.Type, opErr)
	}
}

type validator interface {
	Validate() error
}

func decodeValid(ev domain.Event, dst validator) error {
	if err := ev.DecodePayload(dst); err != nil {
		return err
	}
	return dst.Validate()
}

func (c *Connection) rejectFrame(message string, cause error) {
	c.logg.Debugf("rejecting frame: %s (%v)", message, cause)
	c.SendEvent(domain.MustEvent(domain.EventError, domain.ErrorEvent{
		Code:    domain.CodeMalformedEvent,
		Message: message,
	}))
}

// WritePump drains the send channel onto the socket until the channel closes.
func (c *Connection) WritePump() {
	defer c.ws.Close()

	for ev := range c.send {
		if err := c.ws.WriteJSON(ev); err != nil {
			c.logg.Errorf("write error: %v", err)
			return
		}
	}
}
