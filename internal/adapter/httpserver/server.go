package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/patrik-fredon/rococua-muhah/internal/adapter/metrics"
	"github.com/patrik-fredon/rococua-muhah/internal/app"
	"github.com/patrik-fredon/rococua-muhah/internal/broadcast"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/config"
)

type lifecycle interface {
	Serve(ctx context.Context, conn broadcast.Connection, target app.Target) error
}

type authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.Identity, error)
}

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Lifecycle      lifecycle
	Publisher      domain.EventPublisher
	Auth           authenticator
	Metrics        *metrics.Set
	MetricsHandler http.Handler
	HealthChecks   []HealthCheck
	FanIn          fanInStatus
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	lifecycle      lifecycle
	publisher      domain.EventPublisher
	auth           authenticator
	metrics        *metrics.Set
	metricsHandler http.Handler
	healthChecks   []HealthCheck
	fanIn          fanInStatus

	upgrader  websocket.Upgrader
	wsOptions broadcast.WSConnOptions
	admission *Admission

	// sessions carries the lifetime of every hijacked WebSocket; Shutdown
	// cancels it and waits for the handlers to return.
	sessions       context.Context
	cancelSessions context.CancelFunc
	sessionsWG     sync.WaitGroup

	startTime time.Time
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// Admission and publish quotas key on the client address. Forwarding
	// headers are caller-controlled, so only the socket peer counts.
	e.IPExtractor = echo.ExtractIPDirect()

	if deps.Metrics == nil {
		deps.Metrics = metrics.NewSet(metrics.NewRegistry())
	}

	sessions, cancel := context.WithCancel(context.Background())

	srv := &Server{
		echo:           e,
		config:         cfg,
		lifecycle:      deps.Lifecycle,
		publisher:      deps.Publisher,
		auth:           deps.Auth,
		metrics:        deps.Metrics,
		metricsHandler: deps.MetricsHandler,
		healthChecks:   deps.HealthChecks,
		fanIn:          deps.FanIn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.CORSOrigins(), !cfg.IsProduction()),
		},
		wsOptions: broadcast.WSConnOptions{
			SendBuffer:   cfg.WSSendBuffer,
			PingInterval: cfg.WSPingInterval,
			IdleTimeout:  cfg.WSIdleTimeout,
			Metrics:      deps.Metrics.WebSocket,
		},
		admission: NewAdmission(AdmissionConfig{
			MaxTotal:      cfg.MaxWebSocketConnections,
			MaxPerAddress: cfg.MaxConnectionsPerIP,
			Rate:          cfg.ConnectionRate,
			Burst:         cfg.ConnectionBurst,
		}),
		sessions:       sessions,
		cancelSessions: cancel,
		startTime:      time.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, closes every WebSocket with 1001 and
// waits for their handlers until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	s.cancelSessions()

	done := make(chan struct{})
	go func() {
		s.sessionsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Shutdown deadline reached with WebSocket sessions still open", "active", s.admission.Open())
	}

	if err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
