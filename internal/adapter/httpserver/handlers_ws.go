package httpserver

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/patrik-fredon/rococua-muhah/internal/app"
	"github.com/patrik-fredon/rococua-muhah/internal/broadcast"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/correlation"
	apperrors "github.com/patrik-fredon/rococua-muhah/internal/platform/errors"
)

func (s *Server) registerWebSocketRoutes(api *echo.Group) {
	ws := api.Group("/ws")
	ws.GET("/orders/:order_id", s.handleOrderSocket)
	ws.GET("/products", s.handleProductsSocket)
}

func (s *Server) handleOrderSocket(c echo.Context) error {
	return s.serveSocket(c, app.Target{
		Kind:    domain.ChannelOrder,
		OrderID: c.Param("order_id"),
		Token:   c.QueryParam("token"),
	})
}

func (s *Server) handleProductsSocket(c echo.Context) error {
	return s.serveSocket(c, app.Target{
		Kind:  domain.ChannelProducts,
		Token: c.QueryParam("token"),
	})
}

// serveSocket applies admission control, upgrades the request and hands the
// connection to the lifecycle. Authentication happens after the upgrade so
// failures can be reported with WebSocket close codes.
func (s *Server) serveSocket(c echo.Context, target app.Target) error {
	if s.sessions.Err() != nil {
		return apperrors.UnavailableError("server shutting down", nil)
	}

	ip := c.RealIP()
	release, reason := s.admission.Admit(ip)
	if release == nil {
		s.metrics.WebSocket.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		if reason == LimitReasonGlobal {
			return apperrors.UnavailableError("too many connections", nil).WithContext("reason", reason)
		}
		return apperrors.RateLimitedError("too many connections from this address").WithContext("reason", reason)
	}
	defer release()

	wsConn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written an HTTP error response.
		slog.InfoContext(c.Request().Context(), "WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return nil
	}
	s.metrics.WebSocket.ConnectionsTotal.Inc()

	s.sessionsWG.Add(1)
	defer s.sessionsWG.Done()

	ctx, cancel := context.WithCancel(s.sessions)
	defer cancel()
	if id, ok := correlation.ID(c.Request().Context()); ok {
		ctx = correlation.WithID(ctx, id)
	}

	conn := broadcast.NewWSConn(wsConn, s.wsOptions)
	if err := s.lifecycle.Serve(ctx, conn, target); err != nil {
		slog.DebugContext(ctx, "WebSocket session refused", "remote_ip", ip, "error", err)
	}
	return nil
}
