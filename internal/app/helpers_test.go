package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/patrik-fredon/rococua-muhah/internal/broadcast"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
	"github.com/stretchr/testify/require"
)

// scriptedConn feeds frames pushed on inbound to Receive and records
// everything sent to it.
type scriptedConn struct {
	id      string
	inbound chan []byte

	mu     sync.Mutex
	sent   [][]byte
	code   int
	reason string

	closed chan struct{}
	once   sync.Once
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{
		id:      uuid.NewString(),
		inbound: make(chan []byte, 8),
		closed:  make(chan struct{}),
	}
}

func (c *scriptedConn) ID() string { return c.id }

func (c *scriptedConn) Send(msg []byte) error {
	select {
	case <-c.closed:
		return domain.ErrConnectionClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *scriptedConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, domain.ErrConnectionClosed
	case msg := <-c.inbound:
		return msg, nil
	}
}

func (c *scriptedConn) Close(code int, reason string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.code, c.reason = code, reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *scriptedConn) Done() <-chan struct{} { return c.closed }

func (c *scriptedConn) State() broadcast.State {
	select {
	case <-c.closed:
		return broadcast.StateClosed
	default:
		return broadcast.StateOpen
	}
}

func (c *scriptedConn) closeInfo() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.reason
}

func (c *scriptedConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, m := range c.sent {
		out[i] = string(m)
	}
	return out
}

// waitMessages blocks until at least n messages were sent.
func (c *scriptedConn) waitMessages(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.messages()) >= n }, 2*time.Second, 5*time.Millisecond)
	return c.messages()
}

func decode(t *testing.T, raw string) (domain.EventType, map[string]any) {
	t.Helper()
	env, err := domain.DecodeEnvelope([]byte(raw))
	require.NoError(t, err)
	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return env.Type, data
}

type stubAuthenticator struct {
	identities map[string]*domain.Identity
	err        error
}

func (s *stubAuthenticator) Authenticate(_ context.Context, token string) (*domain.Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	id, ok := s.identities[token]
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	return id, nil
}

type mockOrderRepo struct {
	getByIDFn func(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
}

func (m *mockOrderRepo) GetByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, orderID)
	}
	return nil, domain.ErrOrderNotFound
}

type recordingSubscriber struct {
	mu       sync.Mutex
	channels []string
}

func (r *recordingSubscriber) EnsureSubscription(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channel)
}

func (r *recordingSubscriber) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.channels...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
	err    error
}

type sinkEvent struct {
	channel   string
	eventType domain.EventType
	data      any
}

func (r *recordingSink) PublishEvent(_ context.Context, channel string, eventType domain.EventType, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, sinkEvent{channel, eventType, data})
	return nil
}
