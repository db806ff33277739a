package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/locachat/chatsync/internal/domain"
)

// OptimisticMessage is a locally-created, not-yet-confirmed message shown
// immediately for responsiveness. It lives from SendMessage until it is
// confirmed, expires, or fails — each entry reaches exactly one outcome.
type OptimisticMessage struct {
	TempID    string
	RoomID    string
	SenderID  string
	Content   string
	CreatedAt time.Time
}

type pendingEntry struct {
	msg   OptimisticMessage
	timer *time.Timer
}

// OptimisticStore tracks pending messages with per-entry expiry timers.
// Removal is idempotent on every path: confirm-after-expiry, double confirm,
// and cancel-after-anything are all no-ops.
type OptimisticStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[string]*pendingEntry
	order    []string // newest first
	onExpire func(OptimisticMessage)
}

// NewOptimisticStore creates a store whose entries expire after ttl.
// onExpire (optional) observes entries removed by timeout — a silent local
// cleanup, no retry is attempted.
func NewOptimisticStore(ttl time.Duration, onExpire func(OptimisticMessage)) *OptimisticStore {
	if onExpire == nil {
		onExpire = func(OptimisticMessage) {}
	}
	return &OptimisticStore{
		ttl:      ttl,
		entries:  make(map[string]*pendingEntry),
		onExpire: onExpire,
	}
}

// Add creates a pending entry at the head of the list and starts its expiry
// timer.
func (s *OptimisticStore) Add(roomID, senderID, content string) OptimisticMessage {
	msg := OptimisticMessage{
		TempID:    uuid.NewString(),
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &pendingEntry{msg: msg}
	entry.timer = time.AfterFunc(s.ttl, func() { s.expire(msg.TempID) })
	s.entries[msg.TempID] = entry
	s.order = append([]string{msg.TempID}, s.order...)
	return msg
}

func (s *OptimisticStore) expire(tempID string) {
	if msg, ok := s.remove(tempID); ok {
		s.onExpire(msg)
	}
}

// Remove deletes the entry and cancels its timer. It is a no-op when the
// entry is already gone.
func (s *OptimisticStore) Remove(tempID string) bool {
	_, ok := s.remove(tempID)
	return ok
}

func (s *OptimisticStore) remove(tempID string) (OptimisticMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(tempID)
}

func (s *OptimisticStore) removeLocked(tempID string) (OptimisticMessage, bool) {
	entry, ok := s.entries[tempID]
	if !ok {
		return OptimisticMessage{}, false
	}
	entry.timer.Stop()
	delete(s.entries, tempID)
	for i, id := range s.order {
		if id == tempID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return entry.msg, true
}

// Reconcile removes the first pending entry matching the confirmed message
// by room, sender, exact content, and creation time within window. A
// confirmation with no match (for instance, one arriving after expiry) is a
// no-op.
func (s *OptimisticStore) Reconcile(confirmed domain.Message, window time.Duration) (OptimisticMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		entry := s.entries[id]
		if entry.msg.RoomID != confirmed.RoomID {
			continue
		}
		if entry.msg.SenderID != confirmed.SenderID || entry.msg.Content != confirmed.Content {
			continue
		}
		delta := confirmed.CreatedAt.Sub(entry.msg.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta < window {
			return s.removeLocked(id)
		}
	}
	return OptimisticMessage{}, false
}

// Pending returns the room's pending entries, newest first.
func (s *OptimisticStore) Pending(roomID string) []OptimisticMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []OptimisticMessage
	for _, id := range s.order {
		if entry := s.entries[id]; entry.msg.RoomID == roomID {
			out = append(out, entry.msg)
		}
	}
	return out
}

// CancelRoom drops every pending entry for the room, timers included. Used
// when the user leaves the room before confirmation.
func (s *OptimisticStore) CancelRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range append([]string(nil), s.order...) {
		if entry, ok := s.entries[id]; ok && entry.msg.RoomID == roomID {
			s.removeLocked(id)
		}
	}
}

// Close cancels every outstanding timer.
func (s *OptimisticStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.entries {
		s.removeLocked(id)
	}
}
