package redis

import (
	"context"
	"fmt"

	"github.com/patrik-fredon/rococua-muhah/internal/adapter/metrics"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// Transport carries envelopes between instances over Redis Pub/Sub. Redis
// channel names equal the broadcast channel names.
type Transport struct {
	rdb *goredis.Client
}

var _ domain.Transport = (*Transport)(nil)

func NewTransport(rdb *goredis.Client) *Transport {
	return &Transport{rdb: rdb}
}

// Dialer returns a function that connects a new Transport on every call.
// It matches broadcast.Dialer.
func Dialer(redisURL string, m *metrics.RedisMetrics) func(context.Context) (domain.Transport, error) {
	return func(ctx context.Context) (domain.Transport, error) {
		rdb, err := NewClient(ctx, redisURL, m)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, err)
		}
		return NewTransport(rdb), nil
	}
}

func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := t.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so messages
// published after it returns are not missed.
func (t *Transport) Subscribe(ctx context.Context, channel string) (domain.Subscription, error) {
	ps := t.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	return &subscription{ps: ps, channel: channel}, nil
}

func (t *Transport) Ping(ctx context.Context) error {
	if err := t.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (t *Transport) Close() error {
	if err := t.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

type subscription struct {
	ps      *goredis.PubSub
	channel string
}

// Receive returns the next message payload. A network error is returned
// as-is; the caller decides whether to resubscribe.
func (s *subscription) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis receive %s: %w", s.channel, err)
	}
	return []byte(msg.Payload), nil
}

func (s *subscription) Close() error {
	return s.ps.Close()
}
