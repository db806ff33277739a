package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/locachat/chatsync/internal/domain"
	"github.com/locachat/chatsync/pkg/logger"
)

// wsTestServer accepts WebSocket connections and exposes the most recent one
// so tests can read client frames and push server frames.
type wsTestServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   []*websocket.Conn
	headers []http.Header
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	s := &wsTestServer{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.headers = append(s.headers, r.Header.Clone())
		s.mu.Unlock()
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsTestServer) waitForConn(t *testing.T, n int) *websocket.Conn {
	t.Helper()
	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.conns) >= n
	}, 2*time.Second, 10*time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[n-1]
}

func dialTestTransport(t *testing.T, cfg Config) (*Transport, *wsTestServer) {
	t.Helper()
	s := newWSTestServer(t)
	cfg.URL = s.url()
	tr, err := Dial(cfg, logger.NewLogger("error", ""))
	assert.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr, s
}

func TestDialSendsBearerToken(t *testing.T) {
	_, s := dialTestTransport(t, Config{Token: "tok-1"})
	s.waitForConn(t, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, "Bearer tok-1", s.headers[0].Get("Authorization"))
}

func TestEmitReachesServer(t *testing.T) {
	tr, s := dialTestTransport(t, Config{})
	serverConn := s.waitForConn(t, 1)

	assert.NoError(t, tr.JoinRoom("r1"))

	var ev domain.Event
	assert.NoError(t, serverConn.ReadJSON(&ev))
	assert.Equal(t, domain.EventJoinRoom, ev.Type)

	var p domain.JoinRoomPayload
	assert.NoError(t, ev.DecodePayload(&p))
	assert.Equal(t, "r1", p.RoomID)
}

func TestServerEventDispatchesToHandler(t *testing.T) {
	tr, s := dialTestTransport(t, Config{})
	serverConn := s.waitForConn(t, 1)

	received := make(chan domain.Message, 1)
	dispose := tr.OnMessage(func(msg domain.Message) { received <- msg })
	defer dispose()

	ev, err := domain.NewEvent(domain.EventMessage, domain.Message{ID: "m1", RoomID: "r1"})
	assert.NoError(t, err)
	assert.NoError(t, serverConn.WriteJSON(ev))

	select {
	case msg := <-received:
		assert.Equal(t, "m1", msg.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not dispatched")
	}
}

func TestDisposerRemovesHandler(t *testing.T) {
	tr, s := dialTestTransport(t, Config{})
	serverConn := s.waitForConn(t, 1)

	received := make(chan domain.Message, 2)
	dispose := tr.OnMessage(func(msg domain.Message) { received <- msg })
	dispose()

	ev, err := domain.NewEvent(domain.EventMessage, domain.Message{ID: "m1"})
	assert.NoError(t, err)
	assert.NoError(t, serverConn.WriteJSON(ev))

	select {
	case <-received:
		t.Fatal("disposed handler must not fire")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMalformedFrameIsDroppedNotFatal(t *testing.T) {
	tr, s := dialTestTransport(t, Config{})
	serverConn := s.waitForConn(t, 1)

	received := make(chan domain.Message, 1)
	defer tr.OnMessage(func(msg domain.Message) { received <- msg })()

	// Valid JSON with an undecodable payload is dropped at the boundary; the
	// next well-formed frame still arrives.
	assert.NoError(t, serverConn.WriteJSON(domain.Event{Type: domain.EventMessage}))
	ev, err := domain.NewEvent(domain.EventMessage, domain.Message{ID: "m2"})
	assert.NoError(t, err)
	assert.NoError(t, serverConn.WriteJSON(ev))

	select {
	case msg := <-received:
		assert.Equal(t, "m2", msg.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("well-formed frame after a dropped one was not dispatched")
	}
}

func TestTransportReconnectsAfterDrop(t *testing.T) {
	tr, s := dialTestTransport(t, Config{
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
	})
	first := s.waitForConn(t, 1)

	reconnected := make(chan struct{}, 1)
	defer tr.OnConnect(func() {
		select {
		case reconnected <- struct{}{}:
		default:
		}
	})()

	first.Close()

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("transport did not reconnect")
	}

	// The replacement socket carries emits.
	second := s.waitForConn(t, 2)
	assert.NoError(t, tr.JoinRoom("r1"))
	var ev domain.Event
	assert.NoError(t, second.ReadJSON(&ev))
	assert.Equal(t, domain.EventJoinRoom, ev.Type)
}

func TestOneDropNotifiesDisconnectOnce(t *testing.T) {
	tr, s := dialTestTransport(t, Config{
		ReconnectBaseDelay:   10 * time.Millisecond,
		ReconnectMaxDelay:    20 * time.Millisecond,
		ReconnectMaxAttempts: 2,
	})
	s.waitForConn(t, 1)

	var disconnects atomic.Int32
	defer tr.OnDisconnect(func() { disconnects.Add(1) })()

	// Take the whole server down so the drop cannot be recovered; the
	// transport exhausts its attempts and closes itself.
	s.srv.Close()

	assert.Eventually(t, tr.isClosed, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), disconnects.Load(), "the give-up close must not re-notify the same drop")
}

func TestEmitAfterCloseReturnsErrNotConnected(t *testing.T) {
	tr, _ := dialTestTransport(t, Config{})
	assert.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.JoinRoom("r1"), ErrNotConnected)
}
