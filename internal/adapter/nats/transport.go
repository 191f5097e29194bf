package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
)

const subjectPrefix = "realtime."

type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	PingInterval  time.Duration
}

func (c *Config) withDefaults() {
	if c.Name == "" {
		c.Name = "realtime-fanin"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
}

// Transport carries envelopes between instances over core NATS subjects.
// Broadcast channel names map to "realtime.<channel>".
type Transport struct {
	conn *nats.Conn
}

var _ domain.Transport = (*Transport)(nil)

func Connect(cfg Config) (*Transport, error) {
	cfg.withDefaults()

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.PingInterval(cfg.PingInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("Disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("Reconnected to NATS", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			attrs := []any{"error", err}
			if sub != nil {
				attrs = append(attrs, "subject", sub.Subject)
			}
			slog.Error("NATS async error", attrs...)
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to NATS: %w", domain.ErrTransportUnavailable, err)
	}
	return &Transport{conn: conn}, nil
}

// Dialer matches broadcast.Dialer.
func Dialer(cfg Config) func(context.Context) (domain.Transport, error) {
	return func(context.Context) (domain.Transport, error) {
		return Connect(cfg)
	}
}

// Subject maps a broadcast channel name to its NATS subject.
func Subject(channel string) string {
	return subjectPrefix + channel
}

// Channel is the inverse of Subject.
func Channel(subject string) (string, bool) {
	return strings.CutPrefix(subject, subjectPrefix)
}

func (t *Transport) Publish(_ context.Context, channel string, payload []byte) error {
	if err := t.conn.Publish(Subject(channel), payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe flushes the SUB to the server before returning so messages
// published afterwards are delivered.
func (t *Transport) Subscribe(ctx context.Context, channel string) (domain.Subscription, error) {
	sub, err := t.conn.SubscribeSync(Subject(channel))
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats subscribe %s: flush: %w", channel, err)
	}
	return &subscription{sub: sub, channel: channel}, nil
}

func (t *Transport) Ping(ctx context.Context) error {
	if !t.conn.IsConnected() {
		return fmt.Errorf("nats ping: %w", domain.ErrTransportUnavailable)
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats ping: %w", err)
	}
	return nil
}

func (t *Transport) Close() error {
	if err := t.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		t.conn.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

type subscription struct {
	sub     *nats.Subscription
	channel string
}

func (s *subscription) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("nats receive %s: %w", s.channel, err)
	}
	return msg.Data, nil
}

func (s *subscription) Close() error {
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return fmt.Errorf("nats unsubscribe %s: %w", s.channel, err)
	}
	return nil
}
