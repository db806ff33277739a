package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/locachat/chatsync/internal/domain"
	"github.com/locachat/chatsync/pkg/logger"
)

// Handler processes one envelope received from the broker.
type Handler func(env domain.Envelope)

// Fanout bridges one process's accepted events to every other process.
// Subscribe delivers every envelope published to any room channel, the
// process's own publications included; locality filtering is the caller's
// concern.
type Fanout interface {
	Publish(ctx context.Context, env domain.Envelope) error
	Subscribe(ctx context.Context, handler Handler) error
	Health(ctx context.Context) error
	Close() error
}

const (
	maxConnectAttempts = 10
	backoffStep        = 100 * time.Millisecond
	backoffCap         = 3 * time.Second

	channelPrefix  = "chat.room."
	channelPattern = channelPrefix + "*"
)

// RoomChannel is the broker channel carrying all envelopes for one room.
func RoomChannel(roomID string) string {
	return channelPrefix + roomID
}

// backoffDelay returns min(attempt*100ms, 3000ms).
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * backoffStep
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// connectWithRetry runs dial under the bounded backoff policy. After the
// final failed attempt it gives up; the supervisor is expected to restart
// the process rather than have it loop forever.
func connectWithRetry(ctx context.Context, logg logger.Logger, dial func() error) error {
	var err error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		if err = dial(); err == nil {
			return nil
		}
		delay := backoffDelay(attempt)
		logg.Warnf("broker connect attempt %d/%d failed, retrying in %s: %v",
			attempt, maxConnectAttempts, delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("broker unreachable after %d attempts: %w", maxConnectAttempts, err)
}
