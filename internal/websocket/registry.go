package websocket

import (
	"sync"

	"github.com/locachat/chatsync/internal/domain"
	"github.com/locachat/chatsync/pkg/logger"
)

// Registry is the per-process index from room id to locally-attached
// connections. It is the only component that writes to a socket. Cross
// process visibility exists solely through the fan-out, never through
// shared memory.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	rooms  map[string]map[string]*Connection
	joined map[string]map[string]struct{}
	logg   logger.Logger
}

func NewRegistry(logg logger.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		rooms:  make(map[string]map[string]*Connection),
		joined: make(map[string]map[string]struct{}),
		logg:   logg.WithModule("registry"),
	}
}

func (r *Registry) Register(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.id] = c
	r.joined[c.id] = make(map[string]struct{})
	r.logg.Infof("connection %s registered (user=%s, total=%d)", c.id, c.principal.UserID, len(r.conns))
}

// Unregister removes the connection and all of its room memberships in one
// pass under a single lock; a connection is never observable as half joined.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.release(connID)
	if c, ok := r.conns[connID]; ok {
		delete(r.conns, connID)
		c.closeSend()
		r.logg.Infof("connection %s unregistered (total=%d)", connID, len(r.conns))
	}
}

// Join is idempotent; joining an already-joined room is a no-op.
func (r *Registry) Join(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return
	}
	if _, ok := r.joined[connID][roomID]; ok {
		return
	}

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]*Connection)
	}
	r.rooms[roomID][connID] = c
	r.joined[connID][roomID] = struct{}{}
}

func (r *Registry) Leave(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(roomID, connID)
}

func (r *Registry) leaveLocked(roomID, connID string) {
	if conns, ok := r.rooms[roomID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if rooms, ok := r.joined[connID]; ok {
		delete(rooms, roomID)
	}
}

// ReleaseAll removes the connection from every joined room atomically and
// returns the rooms it was a member of.
func (r *Registry) ReleaseAll(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.release(connID)
}

func (r *Registry) release(connID string) []string {
	rooms := make([]string, 0, len(r.joined[connID]))
	for roomID := range r.joined[connID] {
		rooms = append(rooms, roomID)
		r.leaveLocked(roomID, connID)
	}
	delete(r.joined, connID)
	return rooms
}

func (r *Registry) HasJoined(roomID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.joined[connID][roomID]
	return ok
}

// Rooms returns the rooms the connection is currently joined to.
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]string, 0, len(r.joined[connID]))
	for roomID := range r.joined[connID] {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// DeliverLocal writes the event to every locally-attached connection in the
// room except excludeConnID. A connection whose send buffer is full is
// presumed dead and dropped.
func (r *Registry) DeliverLocal(roomID string, ev domain.Event, excludeConnID string) {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.rooms[roomID]))
	for connID, c := range r.rooms[roomID] {
		if connID == excludeConnID {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	var stale []string
	for _, c := range targets {
		if !c.trySend(ev) {
			stale = append(stale, c.id)
		}
	}
	for _, connID := range stale {
		r.logg.Warnf("dropping slow connection %s", connID)
		r.Unregister(connID)
	}
}
