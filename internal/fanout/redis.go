package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/locachat/chatsync/internal/domain"
	"github.com/locachat/chatsync/pkg/logger"
)

// RedisFanout fans envelopes out through Redis pub/sub. It holds three
// dedicated connections: a command connection for health checks, a publisher,
// and a subscriber. The subscriber enters subscribe mode and is never reused
// for other commands.
type RedisFanout struct {
	cmd *redis.Client
	pub *redis.Client
	sub *redis.Client

	logg    logger.Logger
	onFatal func(error)

	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool
}

// NewRedisFanout dials the three broker connections, each under the bounded
// backoff policy. onFatal is invoked at most once if the subscriber link is
// lost and cannot be re-established.
func NewRedisFanout(ctx context.Context, redisURL string, logg logger.Logger, onFatal func(error)) (*RedisFanout, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if onFatal == nil {
		onFatal = func(error) {}
	}

	f := &RedisFanout{
		logg:    logg.WithModule("fanout.redis"),
		onFatal: onFatal,
	}

	for _, c := range []struct {
		name   string
		target **redis.Client
	}{
		{"command", &f.cmd},
		{"publisher", &f.pub},
		{"subscriber", &f.sub},
	} {
		client := redis.NewClient(opts)
		if err := connectWithRetry(ctx, f.logg.WithFields(map[string]interface{}{
			"connection": c.name,
		}), func() error {
			return client.Ping(ctx).Err()
		}); err != nil {
			client.Close()
			f.closeDialed()
			return nil, fmt.Errorf("fatal: %s connection: %w", c.name, err)
		}
		*c.target = client
	}

	return f, nil
}

func (f *RedisFanout) closeDialed() {
	for _, c := range []*redis.Client{f.cmd, f.pub, f.sub} {
		if c != nil {
			c.Close()
		}
	}
}

func (f *RedisFanout) Publish(ctx context.Context, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if err := f.pub.Publish(ctx, RoomChannel(env.RoomID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", RoomChannel(env.RoomID), err)
	}
	return nil
}

// Subscribe PSUBSCRIBEs to every room channel and dispatches envelopes to
// handler from a background goroutine. A dropped subscriber link is redialed
// under the bounded backoff policy; when that is exhausted the failure is
// logged as fatal, onFatal fires, and the loop stops.
func (f *RedisFanout) Subscribe(ctx context.Context, handler Handler) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errors.New("fanout is closed")
	}
	if f.pubsub != nil {
		f.mu.Unlock()
		return errors.New("already subscribed")
	}
	pubsub := f.sub.PSubscribe(ctx, channelPattern)
	f.pubsub = pubsub
	f.mu.Unlock()

	// Confirm the subscription before reporting success.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channelPattern, err)
	}

	go f.receiveLoop(ctx, handler)
	return nil
}

func (f *RedisFanout) receiveLoop(ctx context.Context, handler Handler) {
	for {
		msg, err := f.currentPubSub().ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || f.isClosed() {
				return
			}
			if !f.resubscribe(ctx) {
				return
			}
			continue
		}

		env, err := domain.DecodeEnvelope([]byte(msg.Payload))
		if err != nil {
			f.logg.Warnf("dropping frame on %s: %v", msg.Channel, err)
			continue
		}
		handler(env)
	}
}

func (f *RedisFanout) resubscribe(ctx context.Context) bool {
	err := connectWithRetry(ctx, f.logg, func() error {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return errors.New("fanout is closed")
		}
		if f.pubsub != nil {
			f.pubsub.Close()
		}
		pubsub := f.sub.PSubscribe(ctx, channelPattern)
		f.pubsub = pubsub
		f.mu.Unlock()

		_, rerr := pubsub.Receive(ctx)
		return rerr
	})
	if err != nil {
		if ctx.Err() == nil && !f.isClosed() {
			f.logg.Errorf("fatal: subscriber link lost and not recoverable: %v", err)
			f.onFatal(err)
		}
		return false
	}
	f.logg.Infof("subscriber link re-established")
	return true
}

func (f *RedisFanout) currentPubSub() *redis.PubSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pubsub
}

func (f *RedisFanout) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *RedisFanout) Health(ctx context.Context) error {
	return f.cmd.Ping(ctx).Err()
}

// Close quits all three connections concurrently and waits for every outcome.
// One connection failing to close never blocks or aborts the others.
func (f *RedisFanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	pubsub := f.pubsub
	f.mu.Unlock()

	closers := []func() error{f.cmd.Close, f.pub.Close, f.sub.Close}
	if pubsub != nil {
		closers = append(closers, pubsub.Close)
	}

	errs := make([]error, len(closers))
	var wg sync.WaitGroup
	for i, closeFn := range closers {
		wg.Add(1)
		go func(i int, closeFn func() error) {
			defer wg.Done()
			errs[i] = closeFn()
		}(i, closeFn)
	}
	wg.Wait()

	return errors.Join(errs...)
}
