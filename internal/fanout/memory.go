package fanout

import (
	"context"
	"errors"
	"sync"

	"github.com/locachat/chatsync/internal/domain"
)

// MemoryFanout is a process-local broker for single-instance deployments and
// tests. Envelopes loop straight back to the local subscriber, matching the
// delivery path of the real backends.
type MemoryFanout struct {
	mu       sync.Mutex
	handlers []Handler
	closed   bool
}

func NewMemoryFanout() *MemoryFanout {
	return &MemoryFanout{}
}

func (f *MemoryFanout) Publish(ctx context.Context, env domain.Envelope) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errors.New("fanout is closed")
	}
	handlers := make([]Handler, len(f.handlers))
	copy(handlers, f.handlers)
	f.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
	return nil
}

func (f *MemoryFanout) Subscribe(ctx context.Context, handler Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("fanout is closed")
	}
	f.handlers = append(f.handlers, handler)
	return nil
}

func (f *MemoryFanout) Health(ctx context.Context) error {
	return nil
}

func (f *MemoryFanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.handlers = nil
	return nil
}
