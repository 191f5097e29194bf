package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/patrik-fredon/rococua-muhah/internal/platform/errors"
	"golang.org/x/time/rate"
)

const (
	publishQuotaIdleExpiry = 5 * time.Minute
	callerKey              = "userID"
)

// newPublishQuota limits event publishing per caller. Behind requireRole the
// bucket is keyed by the authenticated user so several services sharing a
// NAT gateway keep separate quotas; anonymous requests fall back to the
// client address.
func newPublishQuota(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: publishQuotaIdleExpiry,
		}),
		IdentifierExtractor: quotaKey,
		// Echo hands DenyHandler errors to the server's error handler and never
		// returns them up the chain, so the refusal is written here.
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			return respondError(c, apperrors.RateLimitedError("publish rate exceeded").WithContext("caller", identifier))
		},
	})
}

func quotaKey(c echo.Context) (string, error) {
	if id, ok := c.Get(callerKey).(string); ok && id != "" {
		return "user:" + id, nil
	}
	return "ip:" + c.RealIP(), nil
}
