package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/patrik-fredon/rococua-muhah/internal/adapter/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingProcess(context.Context, goredis.Cmder) error { return errors.New("connection refused") }
func okProcess(context.Context, goredis.Cmder) error      { return nil }

func publishCmd(ctx context.Context) *goredis.IntCmd {
	return goredis.NewIntCmd(ctx, "publish", "order_1", "{}")
}

func shortTimeoutHook() *CircuitBreakerHook {
	return &CircuitBreakerHook{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-test",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     100 * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 3 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})}
}

func TestCircuitBreakerHook_NormalOperation(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)
	ctx := context.Background()

	for range 10 {
		require.NoError(t, hook.ProcessHook(okProcess)(ctx, publishCmd(ctx)))
	}

	assert.Equal(t, gobreaker.StateClosed, hook.GetState())
	counts := hook.GetCounts()
	assert.Equal(t, uint32(10), counts.Requests)
	assert.Equal(t, uint32(10), counts.TotalSuccesses)
}

func TestCircuitBreakerHook_TransientFailuresKeepClosed(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)
	ctx := context.Background()

	for range 2 {
		err := hook.ProcessHook(failingProcess)(ctx, publishCmd(ctx))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	assert.Equal(t, gobreaker.StateClosed, hook.GetState())
}

func TestCircuitBreakerHook_OpensAndFailsFast(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRedisMetrics(reg)
	hook := NewCircuitBreakerHook(m)
	ctx := context.Background()

	for range 5 {
		_ = hook.ProcessHook(failingProcess)(ctx, publishCmd(ctx))
	}
	require.Equal(t, gobreaker.StateOpen, hook.GetState())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState))

	called := false
	err := hook.ProcessHook(func(context.Context, goredis.Cmder) error {
		called = true
		return nil
	})(ctx, publishCmd(ctx))

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.False(t, called, "Redis should not be called when circuit is open")
}

func TestCircuitBreakerHook_NilReplyIsNotAFailure(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)
	ctx := context.Background()

	for range 10 {
		cmd := goredis.NewStringCmd(ctx, "get", "missing")
		err := hook.ProcessHook(func(_ context.Context, c goredis.Cmder) error {
			c.SetErr(goredis.Nil)
			return goredis.Nil
		})(ctx, cmd)
		assert.ErrorIs(t, err, goredis.Nil)
	}

	assert.Equal(t, gobreaker.StateClosed, hook.GetState())
	assert.Equal(t, uint32(0), hook.GetCounts().TotalFailures)
}

func TestCircuitBreakerHook_RecoversThroughHalfOpen(t *testing.T) {
	hook := shortTimeoutHook()
	ctx := context.Background()

	for range 3 {
		_ = hook.ProcessHook(failingProcess)(ctx, publishCmd(ctx))
	}
	require.Equal(t, gobreaker.StateOpen, hook.GetState())

	time.Sleep(150 * time.Millisecond)

	require.NoError(t, hook.ProcessHook(okProcess)(ctx, publishCmd(ctx)))
	assert.Equal(t, gobreaker.StateHalfOpen, hook.GetState())

	for range 2 {
		require.NoError(t, hook.ProcessHook(okProcess)(ctx, publishCmd(ctx)))
	}
	assert.Equal(t, gobreaker.StateClosed, hook.GetState())
}

func TestCircuitBreakerHook_Pipeline(t *testing.T) {
	hook := shortTimeoutHook()
	ctx := context.Background()

	for range 3 {
		err := hook.ProcessPipelineHook(func(context.Context, []goredis.Cmder) error {
			return errors.New("broken pipe")
		})(ctx, nil)
		assert.Error(t, err)
	}

	err := hook.ProcessPipelineHook(func(context.Context, []goredis.Cmder) error { return nil })(ctx, nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
