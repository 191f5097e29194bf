package httpserver

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/correlation"
	apperrors "github.com/patrik-fredon/rococua-muhah/internal/platform/errors"
)

// correlationMiddleware adopts the caller's correlation id or mints one, and
// echoes it on the response.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.Adopt(c.Request().Header.Get(correlation.Header))
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}
			if c.Response().Committed {
				return err
			}

			var structuredErr *apperrors.Error
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				structuredErr = WrapHTTPError(httpErr)
			} else {
				structuredErr = apperrors.AsStructuredError(err)
			}
			return respondError(c, structuredErr)
		}
	}
}

// respondError logs err and writes it as the JSON error body. Middleware
// that answers a request itself uses it so its refusals look the same as
// handler errors.
func respondError(c echo.Context, err *apperrors.Error) error {
	logError(c, err)

	resp := err.ToResponse()
	resp.CorrelationID, _ = correlation.ID(c.Request().Context())
	if writeErr := c.JSON(err.HTTPStatus(), resp); writeErr != nil {
		return fmt.Errorf("failed to write error response: %w", writeErr)
	}
	return nil
}

func logError(c echo.Context, err *apperrors.Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	if userID := c.Get(callerKey); userID != nil {
		attrs = append(attrs, "user_id", userID)
	}

	ctx := c.Request().Context()
	switch err.Type {
	case apperrors.TypeValidation, apperrors.TypeNotFound, apperrors.TypeUnauthorized:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case apperrors.TypeForbidden, apperrors.TypeRateLimited:
		slog.WarnContext(ctx, "Request refused", attrs...)
	default:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Request failed", attrs...)
	}
}

// WrapHTTPError converts Echo's own errors (404 routes, body binding,
// middleware rejections) into the structured shape.
func WrapHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	msg, _ := httpErr.Message.(string)
	return apperrors.FromStatus(httpErr.Code, msg, httpErr.Internal)
}
