package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/patrik-fredon/rococua-muhah/internal/adapter/metrics"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
)

const pingTimeout = 2 * time.Second

// NewClient parses redisURL, installs the metrics and circuit breaker
// hooks and verifies the connection with a PING. m may be nil. A malformed
// URL is reported as a permanent error.
func NewClient(ctx context.Context, redisURL string, m *metrics.RedisMetrics) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to parse redis URL: %w", err))
	}

	rdb := goredis.NewClient(opts)
	rdb.AddHook(NewMetricsHook(m))
	rdb.AddHook(NewCircuitBreakerHook(m))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return rdb, nil
}
