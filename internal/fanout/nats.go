package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/locachat/chatsync/internal/domain"
	"github.com/locachat/chatsync/pkg/logger"
)

// subjectWildcard matches every room subject ("chat.room.>").
var subjectWildcard = strings.TrimSuffix(channelPrefix, ".") + ".>"

// NATSFanout is the alternate broker backend. NATS multiplexes subscriptions
// over one connection, so the three-connection split the Redis backend needs
// does not apply; reconnect policy is expressed through connection options
// instead.
type NATSFanout struct {
	conn *nats.Conn
	logg logger.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewNATSFanout(ctx context.Context, natsURL string, logg logger.Logger, onFatal func(error)) (*NATSFanout, error) {
	if onFatal == nil {
		onFatal = func(error) {}
	}
	scoped := logg.WithModule("fanout.nats")

	conn, err := nats.Connect(natsURL,
		nats.MaxReconnects(maxConnectAttempts),
		nats.CustomReconnectDelay(func(attempt int) time.Duration {
			return backoffDelay(attempt)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			scoped.Warnf("broker link lost, reconnecting: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			scoped.Infof("broker link re-established at %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if err := nc.LastError(); err != nil {
				scoped.Errorf("fatal: broker connection closed: %v", err)
				onFatal(err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSFanout{conn: conn, logg: scoped}, nil
}

func (f *NATSFanout) Publish(ctx context.Context, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if err := f.conn.Publish(RoomChannel(env.RoomID), data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", RoomChannel(env.RoomID), err)
	}
	return nil
}

func (f *NATSFanout) Subscribe(ctx context.Context, handler Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub != nil {
		return errors.New("already subscribed")
	}

	sub, err := f.conn.Subscribe(subjectWildcard, func(msg *nats.Msg) {
		env, err := domain.DecodeEnvelope(msg.Data)
		if err != nil {
			f.logg.Warnf("dropping frame on %s: %v", msg.Subject, err)
			return
		}
		handler(env)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subjectWildcard, err)
	}
	f.sub = sub
	return nil
}

func (f *NATSFanout) Health(ctx context.Context) error {
	if !f.conn.IsConnected() {
		return errors.New("nats connection is down")
	}
	return nil
}

func (f *NATSFanout) Close() error {
	f.mu.Lock()
	if f.sub != nil {
		_ = f.sub.Unsubscribe()
		f.sub = nil
	}
	f.mu.Unlock()

	f.conn.Close()
	return nil
}
