package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrik-fredon/rococua-muhah/internal/auth"
	"github.com/patrik-fredon/rococua-muhah/internal/domain"
	apperrors "github.com/patrik-fredon/rococua-muhah/internal/platform/errors"
)

const maxEventBody = "64K"

type publishRequest struct {
	Type domain.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

func (s *Server) registerEventRoutes(api *echo.Group) {
	events := api.Group("/events",
		middleware.BodyLimit(maxEventBody),
		s.requireRole(domain.RoleStaff),
		newPublishQuota(s.config.PublishRate, s.config.PublishBurst),
	)
	events.POST("/orders/:order_id", s.handlePublishOrderEvent)
	events.POST("/products", s.handlePublishProductEvent)
}

// requireRole authenticates the bearer token and checks the caller's role
// level.
func (s *Server) requireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return apperrors.UnauthorizedError("Authentication required")
			}

			identity, err := s.auth.Authenticate(c.Request().Context(), token)
			if errors.Is(err, domain.ErrInvalidToken) || errors.Is(err, domain.ErrUnauthenticated) {
				return apperrors.UnauthorizedError("Invalid authentication")
			}
			if err != nil {
				return apperrors.InternalError("failed to authenticate", err)
			}

			c.Set(callerKey, identity.UserID.String())
			if err := auth.RequireLevel(identity, role); err != nil {
				return apperrors.ForbiddenError("Access denied").WithContext("required_role", role)
			}

			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func (s *Server) handlePublishOrderEvent(c echo.Context) error {
	orderID, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		return apperrors.ValidationError("Invalid order ID format")
	}

	req, err := bindPublishRequest(c)
	if err != nil {
		return err
	}

	if err := s.publisher.PublishOrderUpdate(c.Request().Context(), orderID, req.Type, req.Data); err != nil {
		return publishError(err)
	}
	return accepted(c, domain.OrderChannel(orderID), req.Type)
}

func (s *Server) handlePublishProductEvent(c echo.Context) error {
	req, err := bindPublishRequest(c)
	if err != nil {
		return err
	}

	if err := s.publisher.PublishProductUpdate(c.Request().Context(), req.Type, req.Data); err != nil {
		return publishError(err)
	}
	return accepted(c, domain.ProductsChannel, req.Type)
}

func bindPublishRequest(c echo.Context) (*publishRequest, error) {
	var req publishRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return nil, apperrors.ValidationError("Malformed request body")
	}
	if req.Type == "" {
		return nil, apperrors.ValidationError("type is required")
	}
	if len(req.Data) == 0 || string(req.Data) == "null" {
		req.Data = json.RawMessage(`{}`)
	}
	return &req, nil
}

func publishError(err error) error {
	if errors.Is(err, domain.ErrUnknownEventType) {
		return apperrors.ValidationError(err.Error())
	}
	return apperrors.InternalError("failed to publish event", err)
}

func accepted(c echo.Context, channel string, eventType domain.EventType) error {
	if err := c.JSON(http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"channel": channel,
		"type":    string(eventType),
	}); err != nil {
		return fmt.Errorf("failed to write publish response: %w", err)
	}
	return nil
}
