package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"

	"github.com/locachat/chatsync/internal/domain"
	"github.com/locachat/chatsync/internal/port"
	"github.com/locachat/chatsync/internal/websocket"
	"github.com/locachat/chatsync/pkg/logger"
	"github.com/locachat/chatsync/service"
)

var upgrader = gws.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for testing; restrict in production.
	},
}

// bearerToken extracts the handshake token from the Authorization header or,
// for browser clients that cannot set headers on WebSocket dials, the query
// string.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// HandleWebSocket upgrades the HTTP request, authenticates the handshake
// token, and starts the connection pumps. An invalid token closes the socket
// before any room operation is possible.
func HandleWebSocket(
	rootCtx context.Context,
	registry *websocket.Registry,
	gateway service.Gateway,
	authenticator port.Authenticator,
	logg logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logg.Errorf("upgrade error: %v", err)
			return
		}

		principal, err := authenticator.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			ge := domain.AsGatewayError(err)
			_ = conn.WriteJSON(domain.MustEvent(domain.EventError, ge.Event()))
			conn.Close()
			logg.Warnf("handshake rejected from %s: %v", conn.RemoteAddr(), err)
			return
		}

		client := websocket.NewConnection(uuid.NewString(), principal, conn, registry, gateway, logg)
		registry.Register(client)
		logg.Infof("new connection from %s (user=%s)", conn.RemoteAddr(), principal.UserID)

		// The request context dies with the handler; pumps outlive it and
		// run under the process root context instead.
		go client.ReadPump(rootCtx)
		go client.WritePump()
	}
}
