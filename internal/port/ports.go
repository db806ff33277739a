package port

import (
	"context"
	"time"

	"github.com/locachat/chatsync/internal/domain"
)

// Authenticator validates the bearer token presented at socket handshake.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Principal, error)
}

// RoomMembership answers whether a user may join a room. Membership
// administration lives elsewhere; this is a read-only check.
type RoomMembership interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
}

// MessageStore durably stores a validated message and returns the canonical
// copy (id and timestamp assigned) before fan-out.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	ListRecent(ctx context.Context, roomID string, before *time.Time, limit int) ([]domain.Message, error)
}

// Presence tracks which users are currently online in a room.
type Presence interface {
	SetOnline(ctx context.Context, roomID, userID string) error
	SetOffline(ctx context.Context, roomID, userID string) error
	ListOnline(ctx context.Context, roomID string) ([]string, error)
}
