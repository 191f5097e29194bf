package httpserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/patrik-fredon/rococua-muhah/internal/adapter/metrics"
	"github.com/patrik-fredon/rococua-muhah/internal/app"
	"github.com/patrik-fredon/rococua-muhah/internal/broadcast"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// stubAuth maps tokens to identities; unknown tokens are invalid.
type stubAuth struct {
	identities map[string]*domain.Identity
	err        error
}

func (s *stubAuth) Authenticate(_ context.Context, token string) (*domain.Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	if id, ok := s.identities[token]; ok {
		return id, nil
	}
	return nil, domain.ErrInvalidToken
}

type stubOrders struct {
	orders map[uuid.UUID]*domain.Order
}

func (s *stubOrders) GetByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	if o, ok := s.orders[id]; ok {
		return o, nil
	}
	return nil, domain.ErrOrderNotFound
}

type testEnv struct {
	srv      *Server
	registry *broadcast.Registry
	engine   *broadcast.Engine
	auth     *stubAuth
	orders   *stubOrders
	metrics  *metrics.Set

	staff    *domain.Identity
	customer *domain.Identity
}

type testOption func(*config.Config, *Deps)

func withHealthChecks(checks ...HealthCheck) testOption {
	return func(_ *config.Config, d *Deps) { d.HealthChecks = checks }
}

func withConfig(fn func(*config.Config)) testOption {
	return func(c *config.Config, _ *Deps) { fn(c) }
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "development",
		Port:                    "0",
		APIPrefix:               "/api/v1",
		BackendCORSOrigins:      "http://admin.test",
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     10,
		ConnectionRate:          100,
		ConnectionBurst:         100,
		WSPingInterval:          time.Second,
		WSIdleTimeout:           time.Minute,
		WSSendBuffer:            16,
		PublishRate:             100,
		PublishBurst:            100,
	}
}

func newTestEnv(t *testing.T, opts ...testOption) *testEnv {
	t.Helper()

	env := &testEnv{
		staff:    &domain.Identity{UserID: uuid.New(), Roles: []string{domain.RoleStaff}},
		customer: &domain.Identity{UserID: uuid.New(), Roles: []string{domain.RoleUser}},
		orders:   &stubOrders{orders: map[uuid.UUID]*domain.Order{}},
		metrics:  metrics.NewSet(prometheus.NewRegistry()),
	}
	env.auth = &stubAuth{identities: map[string]*domain.Identity{
		"staff-token":    env.staff,
		"customer-token": env.customer,
	}}
	env.registry = broadcast.NewRegistry(env.metrics.Broadcast)
	env.engine = broadcast.NewEngine(env.registry, env.metrics.Broadcast)

	cfg := testConfig()
	deps := Deps{
		Lifecycle: app.NewLifecycle(env.auth, env.orders, env.registry, env.engine, noopSubscriber{}, env.metrics.WebSocket),
		Publisher: app.NewPublisher(env.engine),
		Auth:      env.auth,
		Metrics:   env.metrics,
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	env.srv = NewServer(cfg, deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = env.srv.Shutdown(ctx)
	})
	return env
}

func (e *testEnv) addOrder(owner uuid.UUID) *domain.Order {
	o := &domain.Order{ID: uuid.New(), UserID: owner, Status: domain.OrderConfirmed, PaymentStatus: domain.PaymentPaid}
	e.orders.orders[o.ID] = o
	return o
}

type noopSubscriber struct{}

func (noopSubscriber) EnsureSubscription(string) {}

// startHTTP serves the router on a loopback listener.
func (e *testEnv) startHTTP(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(e.srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, ts *httptest.Server, path string) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, err
}

func readEnvelope(t *testing.T, conn *websocket.Conn) domain.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := domain.DecodeEnvelope(msg)
	require.NoError(t, err)
	return env
}
