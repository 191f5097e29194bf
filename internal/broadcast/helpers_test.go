package broadcast

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
	"github.com/stretchr/testify/require"
)

// fakeConn records what it was sent. Setting failWith makes Send fail.
type fakeConn struct {
	id       string
	mu       sync.Mutex
	sent     [][]byte
	failWith error
	panicMsg string
	closed   chan struct{}
	once     sync.Once
	code     atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.NewString(), closed: make(chan struct{})}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(msg []byte) error {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closed:
		return nil, domain.ErrConnectionClosed
	}
}

func (f *fakeConn) Close(code int, _ string) error {
	f.once.Do(func() {
		f.code.Store(int32(code))
		close(f.closed)
	})
	return nil
}

func (f *fakeConn) Done() <-chan struct{} { return f.closed }

func (f *fakeConn) State() State {
	select {
	case <-f.closed:
		return StateClosed
	default:
		return StateOpen
	}
}

func (f *fakeConn) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = string(m)
	}
	return out
}

func (f *fakeConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-f.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}
}

// memTransport is an in-process Transport. Every subscriber of a channel
// receives every payload published on it.
type memTransport struct {
	mu             sync.Mutex
	subs           map[string][]*memSubscription
	subscribeCalls atomic.Int32
	publishErr     error
	subscribeErr   error
	pingErr        error
	closed         atomic.Bool
}

func newMemTransport() *memTransport {
	return &memTransport{subs: make(map[string][]*memSubscription)}
}

func (m *memTransport) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	for _, s := range m.subs[channel] {
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

func (m *memTransport) Subscribe(_ context.Context, channel string) (domain.Subscription, error) {
	m.subscribeCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	s := &memSubscription{parent: m, channel: channel, ch: make(chan []byte, 64), errCh: make(chan error, 1)}
	m.subs[channel] = append(m.subs[channel], s)
	return s, nil
}

func (m *memTransport) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *memTransport) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *memTransport) subscriberCount(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[channel])
}

// breakSubscriptions makes every live subscription on channel fail.
func (m *memTransport) breakSubscriptions(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs[channel] {
		s.errCh <- errors.New("connection reset by peer")
	}
}

type memSubscription struct {
	parent  *memTransport
	channel string
	ch      chan []byte
	errCh   chan error
	once    sync.Once
}

func (s *memSubscription) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-s.errCh:
		return nil, err
	case msg := <-s.ch:
		return msg, nil
	}
}

func (s *memSubscription) Close() error {
	s.once.Do(func() {
		s.parent.mu.Lock()
		defer s.parent.mu.Unlock()
		subs := s.parent.subs[s.channel]
		for i, other := range subs {
			if other == s {
				s.parent.subs[s.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	})
	return nil
}

// newTestConnPair returns both ends of a real websocket connection.
func newTestConnPair(t *testing.T) (server *ws.Conn, client *ws.Conn) {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ready := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ready <- conn
	}))
	t.Cleanup(func() { srv.Close() })

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-ready
	t.Cleanup(func() { serverConn.Close() })

	return serverConn, clientConn
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
