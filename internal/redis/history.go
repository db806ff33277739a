package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/locachat/chatsync/internal/domain"
	"github.com/locachat/chatsync/pkg/logger"
)

// HistoryStore persists messages in a per-room sorted set scored by creation
// time in unix milliseconds. Implements port.MessageStore.
type HistoryStore struct {
	client *RedisClient
	logg   logger.Logger
}

func NewHistoryStore(client *RedisClient, logg logger.Logger) *HistoryStore {
	return &HistoryStore{
		client: client,
		logg:   logg.WithModule("history"),
	}
}

func historyKey(roomID string) string {
	return "room:messages:" + roomID
}

// SaveMessage assigns the canonical id and timestamp, then stores the message.
func (h *HistoryStore) SaveMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to encode message: %w", err)
	}

	score := float64(msg.CreatedAt.UnixMilli())
	if err := h.client.ZAdd(ctx, historyKey(msg.RoomID), score, string(data)); err != nil {
		return domain.Message{}, fmt.Errorf("failed to store message: %w", err)
	}
	return msg, nil
}

// ListRecent returns up to limit messages created strictly before the given
// time (or the newest ones when before is nil), in chronological order.
func (h *HistoryStore) ListRecent(ctx context.Context, roomID string, before *time.Time, limit int) ([]domain.Message, error) {
	max := "+inf"
	if before != nil {
		max = "(" + strconv.FormatInt(before.UnixMilli(), 10)
	}

	raw, err := h.client.ZRevRangeByScore(ctx, historyKey(roomID), max, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	msgs := make([]domain.Message, 0, len(raw))
	// ZREVRANGEBYSCORE yields newest first; reverse into chronological order.
	for i := len(raw) - 1; i >= 0; i-- {
		if msg, ok := h.decodeMember(roomID, raw[i]); ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

// decodeMember parses one stored sorted-set member. A corrupt member is
// dropped from the page but logged, so damaged history is observable.
func (h *HistoryStore) decodeMember(roomID, raw string) (domain.Message, bool) {
	var msg domain.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		h.logg.Errorf("dropping corrupt history entry in room %s: %v", roomID, err)
		return domain.Message{}, false
	}
	return msg, true
}
