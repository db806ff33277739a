package redis

import "context"

// MembershipStore answers room membership checks against the membership sets
// maintained by the room CRUD service. Implements port.RoomMembership.
type MembershipStore struct {
	client *RedisClient
}

func NewMembershipStore(client *RedisClient) *MembershipStore {
	return &MembershipStore{client: client}
}

func membersKey(roomID string) string {
	return "room:members:" + roomID
}

func (m *MembershipStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return m.client.SIsMember(ctx, membersKey(roomID), userID)
}

// AddMember and RemoveMember exist for seeding and tests; membership
// administration proper is owned by the room CRUD service.
func (m *MembershipStore) AddMember(ctx context.Context, roomID, userID string) error {
	return m.client.SAdd(ctx, membersKey(roomID), userID)
}

func (m *MembershipStore) RemoveMember(ctx context.Context, roomID, userID string) error {
	return m.client.SRem(ctx, membersKey(roomID), userID)
}
