package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/correlation"
	apperrors "github.com/patrik-fredon/rococua-muhah/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runErrorMiddleware(t *testing.T, handlerErr error) (*httptest.ResponseRecorder, apperrors.ErrorResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error { return handlerErr })
	require.NoError(t, handler(c))

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestMiddlewareWithStructuredError(t *testing.T) {
	rec, resp := runErrorMiddleware(t, apperrors.ValidationError("invalid input"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid input", resp.Error)
	assert.Equal(t, apperrors.TypeValidation, resp.Type)
}

func TestMiddlewareWithStandardError(t *testing.T) {
	rec, resp := runErrorMiddleware(t, errors.New("standard error"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", resp.Error)
	assert.Equal(t, apperrors.TypeInternal, resp.Type)
}

func TestMiddlewareWithEchoHTTPError(t *testing.T) {
	rec, resp := runErrorMiddleware(t, echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed jwt"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing or malformed jwt", resp.Error)
	assert.Equal(t, apperrors.TypeUnauthorized, resp.Type)
}

func TestMiddlewareWithNoError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
		return c.String(http.StatusOK, "success")
	})

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", rec.Body.String())
}

func TestMiddlewareWithContext(t *testing.T) {
	rec, resp := runErrorMiddleware(t, apperrors.NotFoundError("order not found").
		WithContext("order_id", "123"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "123", resp.Context["order_id"])
}

func TestMiddleware_EchoesCorrelationID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(correlation.WithID(req.Context(), "req-42"))
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)

	handler := ErrorHandlingMiddleware()(func(echo.Context) error { return apperrors.ForbiddenError("Access denied") })
	require.NoError(t, handler(c))

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-42", resp.CorrelationID)
}

func TestWrapHTTPError(t *testing.T) {
	tests := []struct {
		code     int
		wantType apperrors.ErrorType
	}{
		{http.StatusBadRequest, apperrors.TypeValidation},
		{http.StatusUnauthorized, apperrors.TypeUnauthorized},
		{http.StatusForbidden, apperrors.TypeForbidden},
		{http.StatusNotFound, apperrors.TypeNotFound},
		{http.StatusTooManyRequests, apperrors.TypeRateLimited},
		{http.StatusBadGateway, apperrors.TypeInternal},
		{http.StatusServiceUnavailable, apperrors.TypeUnavailable},
		{http.StatusTeapot, apperrors.TypeInternal},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			err := WrapHTTPError(echo.NewHTTPError(tt.code))
			assert.Equal(t, tt.wantType, err.Type)
			assert.NotEmpty(t, err.Message)
		})
	}

	cause := errors.New("inner")
	wrapped := WrapHTTPError(echo.NewHTTPError(http.StatusBadRequest, "bad").SetInternal(cause))
	assert.Equal(t, "bad", wrapped.Message)
	assert.ErrorIs(t, wrapped, cause)
}

func TestCorrelationMiddleware(t *testing.T) {
	var seen string
	handler := correlationMiddleware(func(c echo.Context) error {
		seen, _ = correlation.ID(c.Request().Context())
		return nil
	})

	t.Run("adopts incoming id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(correlation.Header, "abc123")
		rec := httptest.NewRecorder()
		require.NoError(t, handler(echo.New().NewContext(req, rec)))

		assert.Equal(t, "abc123", seen)
		assert.Equal(t, "abc123", rec.Header().Get(correlation.Header))
	})

	t.Run("mints an id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		require.NoError(t, handler(echo.New().NewContext(req, rec)))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(correlation.Header))
	})
}
