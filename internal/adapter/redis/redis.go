// Package redis implements the message queue port on Redis pub/sub, the
// alternative event broker to NATS.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Strob0t/TestPulse/internal/port/messagequeue"
)

// echoWindow is how long a published frame is remembered for self-echo
// suppression. Redis delivers to local subscribers within milliseconds.
const echoWindow = 30 * time.Second

type pubSub interface {
	Channel(...goredis.ChannelOption) <-chan *goredis.Message
	Close() error
}

type client interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Subscribe(ctx context.Context, channels ...string) pubSub
	PSubscribe(ctx context.Context, patterns ...string) pubSub
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// Queue implements messagequeue.Queue using Redis pub/sub.
//
// Redis has no equivalent of NATS NoEcho, so Queue remembers the hash of
// every frame it publishes and drops the first matching frame it receives
// back.
type Queue struct {
	client    client
	log       *slog.Logger
	connected atomic.Bool

	mu   sync.Mutex
	sent map[uint64]sentFrame
	now  func() time.Time
}

type sentFrame struct {
	pending int
	at      time.Time
}

// Connect parses url, opens a client and verifies it with a PING.
func Connect(ctx context.Context, url string, log *slog.Logger) (*Queue, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	q := newQueue(&clientAdapter{Client: goredis.NewClient(opts)}, log)
	if err := q.client.Ping(ctx).Err(); err != nil {
		_ = q.client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	q.connected.Store(true)
	q.log.Info("redis connected", "addr", opts.Addr)
	return q, nil
}

func newQueue(c client, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{client: c, log: log, sent: make(map[uint64]sentFrame), now: time.Now}
}

// Publish sends data to every subscriber of channel.
func (q *Queue) Publish(ctx context.Context, channel string, data []byte) error {
	h := xxhash.Sum64(data)
	q.remember(h)
	if err := q.client.Publish(ctx, channel, data).Err(); err != nil {
		q.forget(h)
		q.connected.Store(false)
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	q.connected.Store(true)
	return nil
}

// Subscribe registers a handler for a channel, or for a pattern when it
// contains "*". Cancelling ctx or calling the returned function ends the
// subscription.
func (q *Queue) Subscribe(ctx context.Context, pattern string, handler messagequeue.Handler) (func(), error) {
	var ps pubSub
	if strings.Contains(pattern, "*") {
		ps = q.client.PSubscribe(ctx, pattern)
	} else {
		ps = q.client.Subscribe(ctx, pattern)
	}
	if ps == nil {
		return nil, fmt.Errorf("redis subscribe %s failed", pattern)
	}

	msgs := ps.Channel()
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = ps.Close()
			close(stop)
		})
	}

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				data := []byte(msg.Payload)
				if q.isEcho(xxhash.Sum64(data)) {
					continue
				}
				if err := handler(ctx, msg.Channel, data); err != nil {
					q.log.Error("message handler failed", "channel", msg.Channel, "error", err)
				}
			}
		}
	}()
	return cancel, nil
}

// IsConnected reports whether the last broker round trip succeeded.
func (q *Queue) IsConnected() bool {
	return q.connected.Load()
}

// Close shuts down the Redis client.
func (q *Queue) Close() error {
	q.connected.Store(false)
	return q.client.Close()
}

func (q *Queue) remember(h uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for k, f := range q.sent {
		if now.Sub(f.at) > echoWindow {
			delete(q.sent, k)
		}
	}
	f := q.sent[h]
	f.pending++
	f.at = now
	q.sent[h] = f
}

func (q *Queue) forget(h uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.consume(h)
}

func (q *Queue) isEcho(h uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	f, ok := q.sent[h]
	if !ok || q.now().Sub(f.at) > echoWindow {
		return false
	}
	q.consume(h)
	return true
}

// consume must be called with q.mu held.
func (q *Queue) consume(h uint64) {
	f, ok := q.sent[h]
	if !ok {
		return
	}
	f.pending--
	if f.pending <= 0 {
		delete(q.sent, h)
		return
	}
	q.sent[h] = f
}

type clientAdapter struct {
	*goredis.Client
}

func (c *clientAdapter) Subscribe(ctx context.Context, channels ...string) pubSub {
	return c.Client.Subscribe(ctx, channels...)
}

func (c *clientAdapter) PSubscribe(ctx context.Context, patterns ...string) pubSub {
	return c.Client.PSubscribe(ctx, patterns...)
}
