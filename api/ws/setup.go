package ws

import (
	"context"
	"net/http"

	"github.com/locachat/chatsync/internal/port"
	"github.com/locachat/chatsync/internal/websocket"
	"github.com/locachat/chatsync/pkg/logger"
	"github.com/locachat/chatsync/service"
)

type WSConfig struct {
	Registry      *websocket.Registry
	Gateway       service.Gateway
	Authenticator port.Authenticator
	RootCtx       context.Context
}

func SetupWebSocketRoutes(cfg WSConfig) http.Handler {
	mux := http.NewServeMux()
	log := logger.FromContext(cfg.RootCtx).WithModule("websocket")
	mux.HandleFunc("/ws", HandleWebSocket(cfg.RootCtx, cfg.Registry, cfg.Gateway, cfg.Authenticator, log))
	return mux
}
