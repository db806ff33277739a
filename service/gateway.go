package service

import (
	"context"
	"fmt"

	"github.com/locachat/chatsync/internal/domain"
	"github.com/locachat/chatsync/internal/fanout"
	"github.com/locachat/chatsync/internal/port"
	"github.com/locachat/chatsync/pkg/logger"
)

// Conn is the gateway's view of one authenticated client connection.
type Conn interface {
	ID() string
	Principal() domain.Principal
	SendEvent(ev domain.Event)
}

// RoomRegistry is the gateway's view of the local connection index.
// ReleaseAll removes the connection from every room in one atomic pass and
// returns the rooms it was joined to.
type RoomRegistry interface {
	Join(roomID, connID string)
	Leave(roomID, connID string)
	HasJoined(roomID, connID string) bool
	ReleaseAll(connID string) []string
}

// Gateway is the per-connection protocol state machine: it validates join
// requests against membership, validates and persists outgoing messages, and
// hands accepted events to the fan-out. Every operation reports its failure
// to the originating connection only; one connection's bad input never
// affects another.
type Gateway interface {
	JoinRoom(ctx context.Context, conn Conn, roomID string) error
	LeaveRoom(ctx context.Context, conn Conn, roomID string) error
	SendMessage(ctx context.Context, conn Conn, p domain.SendMessagePayload) error
	Typing(ctx context.Context, conn Conn, p domain.TypingPayload) error
	History(ctx context.Context, conn Conn, req domain.HistoryRequest) error
	Disconnect(ctx context.Context, conn Conn) error
}

type roomGateway struct {
	registry   RoomRegistry
	fanout     fanout.Fanout
	membership port.RoomMembership
	store      port.MessageStore
	presence   port.Presence
	logg       logger.Logger

	instanceID       string
	maxMessageLength int
	historyPageSize  int
}

type GatewayConfig struct {
	Registry         RoomRegistry
	Fanout           fanout.Fanout
	Membership       port.RoomMembership
	Store            port.MessageStore
	Presence         port.Presence
	Logger           logger.Logger
	InstanceID       string
	MaxMessageLength int
	HistoryPageSize  int
}

func NewGateway(cfg GatewayConfig) Gateway {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 10000
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}
	return &roomGateway{
		registry:         cfg.Registry,
		fanout:           cfg.Fanout,
		membership:       cfg.Membership,
		store:            cfg.Store,
		presence:         cfg.Presence,
		logg:             cfg.Logger.WithModule("gateway"),
		instanceID:       cfg.InstanceID,
		maxMessageLength: cfg.MaxMessageLength,
		historyPageSize:  cfg.HistoryPageSize,
	}
}

// fail normalizes err, reports it to the originating connection as an error
// event, and returns it for logging.
func (g *roomGateway) fail(conn Conn, err error) error {
	ge := domain.AsGatewayError(err)
	conn.SendEvent(domain.MustEvent(domain.EventError, ge.Event()))
	return ge
}

func (g *roomGateway) JoinRoom(ctx context.Context, conn Conn, roomID string) error {
	if g.registry.HasJoined(roomID, conn.ID()) {
		return nil
	}

	userID := conn.Principal().UserID
	ok, err := g.membership.IsMember(ctx, roomID, userID)
	if err != nil {
		return g.fail(conn, fmt.Errorf("membership check for room %s: %w", roomID, err))
	}
	if !ok {
		return g.fail(conn, domain.NewGatewayError(domain.CodeNotAMember,
			"you are not a member of this room", nil))
	}

	g.registry.Join(roomID, conn.ID())

	if err := g.presence.SetOnline(ctx, roomID, userID); err != nil {
		g.logg.Errorf("failed to record presence for %s in %s: %v", userID, roomID, err)
	}
	g.publishPresence(ctx, roomID, userID, domain.PresenceOnline)

	return nil
}

func (g *roomGateway) LeaveRoom(ctx context.Context, conn Conn, roomID string) error {
	if !g.registry.HasJoined(roomID, conn.ID()) {
		return nil
	}

	g.registry.Leave(roomID, conn.ID())
	g.markOffline(ctx, roomID, conn.Principal().UserID)
	return nil
}

func (g *roomGateway) SendMessage(ctx context.Context, conn Conn, p domain.SendMessagePayload) error {
	if !g.registry.HasJoined(p.RoomID, conn.ID()) {
		return g.fail(conn, domain.NewGatewayError(domain.CodeNotJoined,
			"join the room before sending messages", nil))
	}

	content := domain.SanitizeContent(p.Content)
	if err := domain.ValidateContent(content, g.maxMessageLength); err != nil {
		return g.fail(conn, err)
	}

	contentType := p.ContentType
	if contentType == "" {
		contentType = domain.ContentTypeText
	}

	msg, err := g.store.SaveMessage(ctx, domain.Message{
		RoomID:      p.RoomID,
		SenderID:    conn.Principal().UserID,
		Content:     content,
		ContentType: contentType,
	})
	if err != nil {
		return g.fail(conn, domain.NewGatewayError(domain.CodePersistenceFailed,
			"message could not be stored", err))
	}

	env, err := domain.NewEnvelope(domain.EnvelopeMessage, msg.RoomID, g.instanceID, msg)
	if err != nil {
		return g.fail(conn, err)
	}
	// Broker publish failures are the fanout layer's problem (logged, retried
	// there); persistence succeeded, so the send is not reported as failed.
	if err := g.fanout.Publish(ctx, env); err != nil {
		g.logg.Errorf("failed to publish message %s: %v", msg.ID, err)
	}

	return nil
}

func (g *roomGateway) Typing(ctx context.Context, conn Conn, p domain.TypingPayload) error {
	if !g.registry.HasJoined(p.RoomID, conn.ID()) {
		return nil
	}

	env, err := domain.NewEnvelope(domain.EnvelopeTyping, p.RoomID, g.instanceID, domain.TypingIndicator{
		RoomID:   p.RoomID,
		UserID:   conn.Principal().UserID,
		IsTyping: p.IsTyping,
	})
	if err != nil {
		return err
	}
	// The typer should not see their own indicator echoed back.
	env.OriginConn = conn.ID()

	if err := g.fanout.Publish(ctx, env); err != nil {
		g.logg.Errorf("failed to publish typing indicator for %s: %v", p.RoomID, err)
	}
	return nil
}

func (g *roomGateway) History(ctx context.Context, conn Conn, req domain.HistoryRequest) error {
	if !g.registry.HasJoined(req.RoomID, conn.ID()) {
		return g.fail(conn, domain.NewGatewayError(domain.CodeNotJoined,
			"join the room before requesting history", nil))
	}

	limit := req.Limit
	if limit <= 0 || limit > g.historyPageSize {
		limit = g.historyPageSize
	}

	msgs, err := g.store.ListRecent(ctx, req.RoomID, req.Before, limit)
	if err != nil {
		return g.fail(conn, fmt.Errorf("history read for room %s: %w", req.RoomID, err))
	}

	ev, err := domain.NewEvent(domain.EventHistory, domain.HistoryPage{
		RoomID:   req.RoomID,
		Messages: msgs,
	})
	if err != nil {
		return err
	}
	conn.SendEvent(ev)
	return nil
}

// Disconnect releases every room membership in one atomic pass and marks the
// user offline in each released room.
func (g *roomGateway) Disconnect(ctx context.Context, conn Conn) error {
	rooms := g.registry.ReleaseAll(conn.ID())
	for _, roomID := range rooms {
		g.markOffline(ctx, roomID, conn.Principal().UserID)
	}
	return nil
}

func (g *roomGateway) markOffline(ctx context.Context, roomID, userID string) {
	if err := g.presence.SetOffline(ctx, roomID, userID); err != nil {
		g.logg.Errorf("failed to clear presence for %s in %s: %v", userID, roomID, err)
	}
	g.publishPresence(ctx, roomID, userID, domain.PresenceOffline)
}

func (g *roomGateway) publishPresence(ctx context.Context, roomID, userID string, status domain.PresenceStatus) {
	env, err := domain.NewEnvelope(domain.EnvelopePresence, roomID, g.instanceID, domain.UserPresence{
		RoomID: roomID,
		UserID: userID,
		Status: status,
	})
	if err != nil {
		g.logg.Errorf("failed to build presence envelope: %v", err)
		return
	}
	if err := g.fanout.Publish(ctx, env); err != nil {
		g.logg.Errorf("failed to publish presence for %s: %v", roomID, err)
	}
}
