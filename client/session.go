package client

import (
	"sort"
	"sync"
	"time"

	"github.com/locachat/chatsync/internal/domain"
	"github.com/locachat/chatsync/pkg/logger"
)

// SessionTransport is the slice of the transport surface the session
// coordinator needs. *Transport satisfies it.
type SessionTransport interface {
	JoinRoom(roomID string) error
	LeaveRoom(roomID string) error
	SendMessage(p domain.SendMessagePayload) error
	SendTyping(roomID string, isTyping bool) error
	RequestHistory(req domain.HistoryRequest) error
	OnMessage(fn func(domain.Message)) func()
	OnHistory(fn func(domain.HistoryPage)) func()
	OnConnect(fn func()) func()
}

type roomView struct {
	messages []domain.Message
	seen     map[string]struct{}
}

// Session merges paginated history, live-delivered messages, and optimistic
// entries into one ordered per-room view, and owns reconciliation. It also
// owns the rejoin-after-reconnect responsibility: the transport alone does
// not replay room joins, so the session does.
type Session struct {
	transport SessionTransport
	store     *OptimisticStore
	cfg       Config
	logg      logger.Logger

	mu        sync.Mutex
	joined    map[string]struct{}
	views     map[string]*roomView
	typingAt  map[string]time.Time
	typingOn  map[string]bool
	disposers []func()
}

// NewSession wires the coordinator onto a dialed transport. Close must be
// called on teardown so every handler and timer is released.
func NewSession(t SessionTransport, cfg Config, logg logger.Logger) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		transport: t,
		cfg:       cfg,
		logg:      logg.WithModule("session"),
		joined:    make(map[string]struct{}),
		views:     make(map[string]*roomView),
		typingAt:  make(map[string]time.Time),
		typingOn:  make(map[string]bool),
	}
	s.store = NewOptimisticStore(cfg.OptimisticTimeout, func(msg OptimisticMessage) {
		s.logg.Debugf("optimistic message %s expired unconfirmed", msg.TempID)
	})

	s.disposers = append(s.disposers,
		t.OnMessage(s.handleMessage),
		t.OnHistory(s.handleHistory),
		t.OnConnect(s.handleConnect),
	)
	return s
}

// handleConnect replays join_room for every room the session still tracks.
// The server-side join is idempotent, so replaying on the first connect as
// well is harmless.
func (s *Session) handleConnect() {
	s.mu.Lock()
	rooms := make([]string, 0, len(s.joined))
	for roomID := range s.joined {
		rooms = append(rooms, roomID)
	}
	s.mu.Unlock()

	for _, roomID := range rooms {
		if err := s.transport.JoinRoom(roomID); err != nil {
			s.logg.Errorf("failed to rejoin %s: %v", roomID, err)
		}
	}
}

func (s *Session) JoinRoom(roomID string) error {
	s.mu.Lock()
	if _, ok := s.joined[roomID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.joined[roomID] = struct{}{}
	if s.views[roomID] == nil {
		s.views[roomID] = &roomView{seen: make(map[string]struct{})}
	}
	s.mu.Unlock()

	if err := s.transport.JoinRoom(roomID); err != nil {
		s.mu.Lock()
		delete(s.joined, roomID)
		s.mu.Unlock()
		return err
	}
	if err := s.transport.RequestHistory(domain.HistoryRequest{RoomID: roomID}); err != nil {
		s.logg.Warnf("history request for %s failed: %v", roomID, err)
	}
	return nil
}

// LeaveRoom releases everything tied to the room: membership, the merged
// view, and any pending optimistic entries with their timers.
func (s *Session) LeaveRoom(roomID string) error {
	s.mu.Lock()
	delete(s.joined, roomID)
	delete(s.views, roomID)
	delete(s.typingAt, roomID)
	delete(s.typingOn, roomID)
	s.mu.Unlock()

	s.store.CancelRoom(roomID)
	return s.transport.LeaveRoom(roomID)
}

// SendMessage validates content locally, inserts a pending entry, and emits.
// Over-length or empty content is rejected before any socket emission and no
// optimistic entry is created. A failed emit removes the entry immediately.
func (s *Session) SendMessage(roomID, content string, contentType domain.ContentType) (OptimisticMessage, error) {
	sanitized := domain.SanitizeContent(content)
	if err := domain.ValidateContent(sanitized, s.cfg.MaxMessageLength); err != nil {
		return OptimisticMessage{}, err
	}

	pending := s.store.Add(roomID, s.cfg.UserID, sanitized)

	err := s.transport.SendMessage(domain.SendMessagePayload{
		RoomID:      roomID,
		Content:     sanitized,
		ContentType: contentType,
	})
	if err != nil {
		s.store.Remove(pending.TempID)
		return OptimisticMessage{}, err
	}
	return pending, nil
}

// SetTyping emits a typing indicator, suppressing repeats of the same state
// inside the idle window so senders stop re-emitting while idle.
func (s *Session) SetTyping(roomID string, isTyping bool) error {
	s.mu.Lock()
	last, seen := s.typingAt[roomID]
	sameState := seen && s.typingOn[roomID] == isTyping
	if sameState && isTyping && time.Since(last) < s.cfg.TypingIdle {
		s.mu.Unlock()
		return nil
	}
	s.typingAt[roomID] = time.Now()
	s.typingOn[roomID] = isTyping
	s.mu.Unlock()

	return s.transport.SendTyping(roomID, isTyping)
}

// handleMessage merges a live message into the room view (idempotent on
// message id) and reconciles it against pending optimistic entries.
func (s *Session) handleMessage(msg domain.Message) {
	s.mu.Lock()
	view := s.views[msg.RoomID]
	if view == nil {
		view = &roomView{seen: make(map[string]struct{})}
		s.views[msg.RoomID] = view
	}
	inserted := s.insertLocked(view, msg)
	s.mu.Unlock()

	if !inserted {
		return
	}
	if pending, ok := s.store.Reconcile(msg, s.cfg.ReconcileWindow); ok {
		s.logg.Debugf("optimistic message %s confirmed as %s", pending.TempID, msg.ID)
	}
}

func (s *Session) handleHistory(page domain.HistoryPage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := s.views[page.RoomID]
	if view == nil {
		view = &roomView{seen: make(map[string]struct{})}
		s.views[page.RoomID] = view
	}
	for _, msg := range page.Messages {
		s.insertLocked(view, msg)
	}
}

// insertLocked adds msg in creation order, skipping ids already merged.
func (s *Session) insertLocked(view *roomView, msg domain.Message) bool {
	if _, ok := view.seen[msg.ID]; ok {
		return false
	}
	view.seen[msg.ID] = struct{}{}

	i := sort.Search(len(view.messages), func(i int) bool {
		return view.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	view.messages = append(view.messages, domain.Message{})
	copy(view.messages[i+1:], view.messages[i:])
	view.messages[i] = msg
	return true
}

// Messages returns the merged, ordered view for the room.
func (s *Session) Messages(roomID string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := s.views[roomID]
	if view == nil {
		return nil
	}
	out := make([]domain.Message, len(view.messages))
	copy(out, view.messages)
	return out
}

// Pending returns the room's unconfirmed optimistic entries, newest first.
func (s *Session) Pending(roomID string) []OptimisticMessage {
	return s.store.Pending(roomID)
}

// Close disposes every transport subscription and cancels all pending
// timers. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	disposers := s.disposers
	s.disposers = nil
	s.mu.Unlock()

	for _, dispose := range disposers {
		dispose()
	}
	s.store.Close()
}
