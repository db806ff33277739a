package redis

import "context"

// PresenceStore tracks online users per room. Implements port.Presence.
type PresenceStore struct {
	client *RedisClient
}

func NewPresenceStore(client *RedisClient) *PresenceStore {
	return &PresenceStore{client: client}
}

func onlineKey(roomID string) string {
	return "room:online:" + roomID
}

func (p *PresenceStore) SetOnline(ctx context.Context, roomID, userID string) error {
	return p.client.SAdd(ctx, onlineKey(roomID), userID)
}

func (p *PresenceStore) SetOffline(ctx context.Context, roomID, userID string) error {
	return p.client.SRem(ctx, onlineKey(roomID), userID)
}

func (p *PresenceStore) ListOnline(ctx context.Context, roomID string) ([]string, error) {
	return p.client.SMembers(ctx, onlineKey(roomID))
}
