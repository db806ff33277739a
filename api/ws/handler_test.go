package ws

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locachat/chatsync/internal/auth"
	"github.com/locachat/chatsync/internal/domain"
	"github.com/locachat/chatsync/internal/fanout"
	"github.com/locachat/chatsync/internal/websocket"
	"github.com/locachat/chatsync/pkg/logger"
	"github.com/locachat/chatsync/service"
)

const testSecret = "test-secret"

type memMembership struct {
	members map[string]map[string]bool
}

func (m *memMembership) IsMember(_ context.Context, roomID, userID string) (bool, error) {
	return m.members[roomID][userID], nil
}

type memStore struct {
	mu   sync.Mutex
	next int
	msgs []domain.Message
}

func (s *memStore) SaveMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	msg.ID = fmt.Sprintf("m%d", s.next)
	msg.CreatedAt = time.Now().UTC()
	s.msgs = append(s.msgs, msg)
	return msg, nil
}

func (s *memStore) ListRecent(_ context.Context, roomID string, _ *time.Time, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, msg := range s.msgs {
		if msg.RoomID == roomID && len(out) < limit {
			out = append(out, msg)
		}
	}
	return out, nil
}

type memPresence struct{}

func (memPresence) SetOnline(context.Context, string, string) error  { return nil }
func (memPresence) SetOffline(context.Context, string, string) error { return nil }
func (memPresence) ListOnline(context.Context, string) ([]string, error) {
	return nil, nil
}

// newTestServer wires the full in-process stack: registry, gateway, memory
// fan-out, and the handshake authenticator, the same shape the app assembles.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logg := logger.NewLogger("error", "")
	rootCtx, cancel := context.WithCancel(logger.NewContext(context.Background(), logg))
	t.Cleanup(cancel)

	const instanceID = "inst-test"
	registry := websocket.NewRegistry(logg)
	fan := fanout.NewMemoryFanout()
	t.Cleanup(func() { fan.Close() })

	gateway := service.NewGateway(service.GatewayConfig{
		Registry:   registry,
		Fanout:     fan,
		Membership: &memMembership{members: map[string]map[string]bool{"r1": {"alice": true, "bob": true}}},
		Store:      &memStore{},
		Presence:   memPresence{},
		Logger:     logg,
		InstanceID: instanceID,
	})

	err := fan.Subscribe(rootCtx, func(env domain.Envelope) {
		exclude := ""
		if env.OriginInstance == instanceID {
			exclude = env.OriginConn
		}
		registry.DeliverLocal(env.RoomID, env.Event(), exclude)
	})
	require.NoError(t, err)

	srv := httptest.NewServer(SetupWebSocketRoutes(WSConfig{
		Registry:      registry,
		Gateway:       gateway,
		Authenticator: auth.NewJWTAuthenticator(testSecret),
		RootCtx:       rootCtx,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mintToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func dialClient(t *testing.T, srv *httptest.Server, token string) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *gws.Conn, evType domain.EventType, payload interface{}) {
	t.Helper()
	ev, err := domain.NewEvent(evType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ev))
}

// readEvent reads frames until one of the wanted type arrives, skipping
// interleaved presence broadcasts.
func readEvent(t *testing.T, conn *gws.Conn, want domain.EventType) domain.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var ev domain.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == want {
			return ev
		}
	}
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	srv := newTestServer(t)
	conn := dialClient(t, srv, "not-a-token")

	ev := readEvent(t, conn, domain.EventError)
	var e domain.ErrorEvent
	require.NoError(t, ev.DecodePayload(&e))
	assert.Equal(t, domain.CodeAuthFailed, e.Code)

	// The server closes the socket right after the error frame.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var next domain.Event
	assert.Error(t, conn.ReadJSON(&next))
}

func TestMessageRoundTripBetweenTwoClients(t *testing.T) {
	srv := newTestServer(t)
	alice := dialClient(t, srv, mintToken(t, "alice"))
	bob := dialClient(t, srv, mintToken(t, "bob"))

	sendEvent(t, alice, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "r1"})
	sendEvent(t, bob, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "r1"})
	// Alice sees her own join broadcast first, then bob's; the second frame
	// confirms both joins are processed before the send.
	readEvent(t, alice, domain.EventPresence)
	readEvent(t, alice, domain.EventPresence)

	sendEvent(t, alice, domain.EventSendMessage, domain.SendMessagePayload{RoomID: "r1", Content: "hello"})

	for name, conn := range map[string]*gws.Conn{"alice": alice, "bob": bob} {
		ev := readEvent(t, conn, domain.EventMessage)
		var msg domain.Message
		require.NoError(t, ev.DecodePayload(&msg))
		assert.Equal(t, "hello", msg.Content, "recipient %s", name)
		assert.Equal(t, "alice", msg.SenderID)
		assert.NotEmpty(t, msg.ID, "the confirmed copy carries the canonical id")
	}
}

func TestSendWithoutJoinReturnsError(t *testing.T) {
	srv := newTestServer(t)
	alice := dialClient(t, srv, mintToken(t, "alice"))

	sendEvent(t, alice, domain.EventSendMessage, domain.SendMessagePayload{RoomID: "r1", Content: "hello"})

	ev := readEvent(t, alice, domain.EventError)
	var e domain.ErrorEvent
	require.NoError(t, ev.DecodePayload(&e))
	assert.Equal(t, domain.CodeNotJoined, e.Code)
}

func TestJoinDeniedForNonMember(t *testing.T) {
	srv := newTestServer(t)
	mallory := dialClient(t, srv, mintToken(t, "mallory"))

	sendEvent(t, mallory, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "r1"})

	ev := readEvent(t, mallory, domain.EventError)
	var e domain.ErrorEvent
	require.NoError(t, ev.DecodePayload(&e))
	assert.Equal(t, domain.CodeNotAMember, e.Code)
}

func TestTypingIsNotEchoedToSender(t *testing.T) {
	srv := newTestServer(t)
	alice := dialClient(t, srv, mintToken(t, "alice"))
	bob := dialClient(t, srv, mintToken(t, "bob"))

	sendEvent(t, alice, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "r1"})
	sendEvent(t, bob, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "r1"})
	readEvent(t, alice, domain.EventPresence)
	readEvent(t, alice, domain.EventPresence)

	sendEvent(t, alice, domain.EventTyping, domain.TypingPayload{RoomID: "r1", IsTyping: true})

	ev := readEvent(t, bob, domain.EventTyping)
	var ind domain.TypingIndicator
	require.NoError(t, ev.DecodePayload(&ind))
	assert.Equal(t, "alice", ind.UserID)
	assert.True(t, ind.IsTyping)

	// Alice sends a message afterwards; an echoed typing frame would have to
	// arrive before the message confirmation, so the frames up to the
	// confirmation prove there was no echo.
	sendEvent(t, alice, domain.EventSendMessage, domain.SendMessagePayload{RoomID: "r1", Content: "done"})
	alice.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var frame domain.Event
		require.NoError(t, alice.ReadJSON(&frame))
		assert.NotEqual(t, domain.EventTyping, frame.Type, "typing must not be echoed to its sender")
		if frame.Type == domain.EventMessage {
			break
		}
	}
}

func TestMalformedFrameGetsErrorNotDisconnect(t *testing.T) {
	srv := newTestServer(t)
	alice := dialClient(t, srv, mintToken(t, "alice"))

	require.NoError(t, alice.WriteMessage(gws.TextMessage, []byte(`{"type":"bogus","payload":{}}`)))

	ev := readEvent(t, alice, domain.EventError)
	var e domain.ErrorEvent
	require.NoError(t, ev.DecodePayload(&e))
	assert.Equal(t, domain.CodeMalformedEvent, e.Code)

	// The connection survives and still works.
	sendEvent(t, alice, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "r1"})
	readEvent(t, alice, domain.EventPresence)
}

func TestHistoryAfterJoin(t *testing.T) {
	srv := newTestServer(t)
	alice := dialClient(t, srv, mintToken(t, "alice"))

	sendEvent(t, alice, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "r1"})
	sendEvent(t, alice, domain.EventSendMessage, domain.SendMessagePayload{RoomID: "r1", Content: "hello"})
	readEvent(t, alice, domain.EventMessage)

	sendEvent(t, alice, domain.EventHistory, domain.HistoryRequest{RoomID: "r1"})

	ev := readEvent(t, alice, domain.EventHistory)
	var page domain.HistoryPage
	require.NoError(t, ev.DecodePayload(&page))
	assert.Equal(t, "r1", page.RoomID)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "hello", page.Messages[0].Content)
}
