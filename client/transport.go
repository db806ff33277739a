package client

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/locachat/chatsync/internal/domain"
	"github.com/locachat/chatsync/pkg/logger"
)

// ErrNotConnected is returned by emits while the transport is between
// sockets. Emits are fire-and-forget: callers surface their own errors and
// the transport never retries an emit.
var ErrNotConnected = errors.New("transport is not connected")

// Config carries every client-side tunable. Zero values take defaults.
type Config struct {
	URL    string
	Token  string
	UserID string

	MaxMessageLength     int
	OptimisticTimeout    time.Duration
	ReconcileWindow      time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
	TypingIdle           time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = 10000
	}
	if c.OptimisticTimeout <= 0 {
		c.OptimisticTimeout = 30 * time.Second
	}
	if c.ReconcileWindow <= 0 {
		c.ReconcileWindow = 5 * time.Second
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = 100 * time.Millisecond
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 3 * time.Second
	}
	if c.ReconnectMaxAttempts <= 0 {
		c.ReconnectMaxAttempts = 10
	}
	if c.TypingIdle <= 0 {
		c.TypingIdle = 3 * time.Second
	}
	return c
}

type lifecycle int

const (
	lifecycleConnect lifecycle = iota
	lifecycleDisconnect
	lifecycleReconnecting
)

// Transport wraps a reconnecting WebSocket. Handlers are registered on the
// wrapper, not the socket, so they survive reconnects; every On* call
// returns a disposer that must be invoked on teardown.
type Transport struct {
	cfg  Config
	logg logger.Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	conn         *websocket.Conn
	handlers     map[domain.EventType]map[int]func(domain.Event)
	observers    map[lifecycle]map[int]func(attempt int)
	nextID       int
	closed       bool
	disconnected bool
}

// Dial connects and starts the read loop. The returned transport reconnects
// automatically with bounded backoff when the socket drops.
func Dial(cfg Config, logg logger.Logger) (*Transport, error) {
	t := &Transport{
		cfg:       cfg.withDefaults(),
		logg:      logg.WithModule("transport"),
		handlers:  make(map[domain.EventType]map[int]func(domain.Event)),
		observers: make(map[lifecycle]map[int]func(int)),
	}

	conn, err := t.dial()
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	t.notify(lifecycleConnect, 0)
	return t, nil
}

func (t *Transport) dial() (*websocket.Conn, error) {
	header := http.Header{}
	if t.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+t.cfg.Token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(t.cfg.URL, header)
	return conn, err
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		var ev domain.Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		t.dispatch(ev)
	}

	conn.Close()
	if t.isClosed() {
		return
	}
	if t.markDisconnected() {
		t.notify(lifecycleDisconnect, 0)
	}
	t.reconnect()
}

// markDisconnected records the connected-to-disconnected transition. One
// socket drop notifies observers exactly once, even when the reconnect loop
// later gives up and closes the transport.
func (t *Transport) markDisconnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnected {
		return false
	}
	t.disconnected = true
	return true
}

// reconnect retries with delay = min(attempt*base, cap) and gives up after
// the configured number of attempts; the session layer owns replaying
// join_room once a new socket is up.
func (t *Transport) reconnect() {
	for attempt := 1; attempt <= t.cfg.ReconnectMaxAttempts; attempt++ {
		if t.isClosed() {
			return
		}
		t.notify(lifecycleReconnecting, attempt)

		delay := time.Duration(attempt) * t.cfg.ReconnectBaseDelay
		if delay > t.cfg.ReconnectMaxDelay {
			delay = t.cfg.ReconnectMaxDelay
		}
		time.Sleep(delay)

		conn, err := t.dial()
		if err != nil {
			t.logg.Warnf("reconnect attempt %d/%d failed: %v", attempt, t.cfg.ReconnectMaxAttempts, err)
			continue
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.conn = conn
		t.disconnected = false
		t.mu.Unlock()

		t.logg.Infof("reconnected after %d attempt(s)", attempt)
		go t.readLoop(conn)
		t.notify(lifecycleConnect, attempt)
		return
	}

	t.logg.Errorf("giving up after %d reconnect attempts", t.cfg.ReconnectMaxAttempts)
	t.Close()
}

func (t *Transport) dispatch(ev domain.Event) {
	t.mu.Lock()
	set := t.handlers[ev.Type]
	fns := make([]func(domain.Event), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (t *Transport) notify(kind lifecycle, attempt int) {
	t.mu.Lock()
	set := t.observers[kind]
	fns := make([]func(int), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(attempt)
	}
}

// subscribe registers fn for an event type and returns its disposer.
func (t *Transport) subscribe(evType domain.EventType, fn func(domain.Event)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handlers[evType] == nil {
		t.handlers[evType] = make(map[int]func(domain.Event))
	}
	id := t.nextID
	t.nextID++
	t.handlers[evType][id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers[evType], id)
	}
}

func (t *Transport) observe(kind lifecycle, fn func(attempt int)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.observers[kind] == nil {
		t.observers[kind] = make(map[int]func(int))
	}
	id := t.nextID
	t.nextID++
	t.observers[kind][id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.observers[kind], id)
	}
}

// OnMessage registers a handler for confirmed messages. Frames that fail to
// decode are dropped at this boundary.
func (t *Transport) OnMessage(fn func(domain.Message)) func() {
	return t.subscribe(domain.EventMessage, func(ev domain.Event) {
		var msg domain.Message
		if err := ev.DecodePayload(&msg); err != nil {
			t.logg.Warnf("dropping message event: %v", err)
			return
		}
		fn(msg)
	})
}

func (t *Transport) OnTyping(fn func(domain.TypingIndicator)) func() {
	return t.subscribe(domain.EventTyping, func(ev domain.Event) {
		var ind domain.TypingIndicator
		if err := ev.DecodePayload(&ind); err != nil {
			t.logg.Warnf("dropping typing event: %v", err)
			return
		}
		fn(ind)
	})
}

func (t *Transport) OnPresence(fn func(domain.UserPresence)) func() {
	return t.subscribe(domain.EventPresence, func(ev domain.Event) {
		var p domain.UserPresence
		if err := ev.DecodePayload(&p); err != nil {
			t.logg.Warnf("dropping presence event: %v", err)
			return
		}
		fn(p)
	})
}

func (t *Transport) OnError(fn func(domain.ErrorEvent)) func() {
	return t.subscribe(domain.EventError, func(ev domain.Event) {
		var e domain.ErrorEvent
		if err := ev.DecodePayload(&e); err != nil {
			t.logg.Warnf("dropping error event: %v", err)
			return
		}
		fn(e)
	})
}

func (t *Transport) OnHistory(fn func(domain.HistoryPage)) func() {
	return t.subscribe(domain.EventHistory, func(ev domain.Event) {
		var page domain.HistoryPage
		if err := ev.DecodePayload(&page); err != nil {
			t.logg.Warnf("dropping history event: %v", err)
			return
		}
		fn(page)
	})
}

// Lifecycle observers are diagnostic; message delivery correctness never
// depends on them beyond what automatic reconnection provides.
func (t *Transport) OnConnect(fn func()) func() {
	return t.observe(lifecycleConnect, func(int) { fn() })
}

func (t *Transport) OnDisconnect(fn func()) func() {
	return t.observe(lifecycleDisconnect, func(int) { fn() })
}

func (t *Transport) OnReconnecting(fn func(attempt int)) func() {
	return t.observe(lifecycleReconnecting, fn)
}

func (t *Transport) emit(evType domain.EventType, payload interface{}) error {
	ev, err := domain.NewEvent(evType, payload)
	if err != nil {
		return err
	}

	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()
	if closed || conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteJSON(ev)
}

func (t *Transport) JoinRoom(roomID string) error {
	return t.emit(domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: roomID})
}

func (t *Transport) LeaveRoom(roomID string) error {
	return t.emit(domain.EventLeaveRoom, domain.LeaveRoomPayload{RoomID: roomID})
}

func (t *Transport) SendMessage(p domain.SendMessagePayload) error {
	return t.emit(domain.EventSendMessage, p)
}

func (t *Transport) SendTyping(roomID string, isTyping bool) error {
	return t.emit(domain.EventTyping, domain.TypingPayload{RoomID: roomID, IsTyping: isTyping})
}

func (t *Transport) RequestHistory(req domain.HistoryRequest) error {
	return t.emit(domain.EventHistory, req)
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close tears the transport down permanently; no further reconnects occur.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	wasDisconnected := t.disconnected
	t.disconnected = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if !wasDisconnected {
		t.notify(lifecycleDisconnect, 0)
	}
	return nil
}
