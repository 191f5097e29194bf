package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a dependency the instance cannot serve without.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// fanInStatus reports whether cross-instance delivery is available. Losing
// it degrades delivery but never fails a probe.
type fanInStatus interface {
	Status(ctx context.Context) string
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	return s.respondHealth(ctx, c, s.checkDependencies(ctx))
}

// handleLiveness never touches dependencies; a restart would not fix them.
func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.startTime).Seconds(),
		"connections": s.admission.Open(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// handleReadiness fails while draining so load balancers stop routing new
// WebSocket upgrades here before the sessions are closed.
func (s *Server) handleReadiness(c echo.Context) error {
	if s.sessions.Err() != nil {
		return s.respondHealth(c.Request().Context(), c, &healthFailure{check: "server", err: "shutting down"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	return s.respondHealth(ctx, c, s.checkDependencies(ctx))
}

type healthFailure struct {
	check string
	err   string
}

func (s *Server) checkDependencies(ctx context.Context) *healthFailure {
	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			return &healthFailure{check: hc.Name, err: err.Error()}
		}
	}
	return nil
}

func (s *Server) respondHealth(ctx context.Context, c echo.Context, failure *healthFailure) error {
	status := http.StatusOK
	response := map[string]any{"status": "ready"}
	if failure != nil {
		status = http.StatusServiceUnavailable
		response = map[string]any{
			"status":       "unhealthy",
			"failed_check": failure.check,
			"error":        failure.err,
		}
	}
	if s.fanIn != nil {
		response["fanin"] = s.fanIn.Status(ctx)
	}

	if err := c.JSON(status, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
