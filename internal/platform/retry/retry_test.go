package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/patrik-fredon/rococua-muhah/internal/platform/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
}

var errTransient = errors.New("connection refused")

// failing returns an operation that fails n times before returning val.
func failing[T any](n int, val T, calls *int) func(context.Context) (T, error) {
	return func(context.Context) (T, error) {
		*calls++
		if *calls <= n {
			var zero T
			return zero, errTransient
		}
		return val, nil
	}
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	val, err := retry.Do(context.Background(), fastPolicy, retry.Transient, failing(0, "ok", &calls))
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	val, err := retry.Do(context.Background(), fastPolicy, retry.Transient, failing(2, 42, &calls))
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustedAttempts(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, retry.Transient, failing(10, 0, &calls))
	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.False(t, retry.IsPermanent(err))
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	badURL := retry.Permanent(errors.New("failed to parse redis URL"))
	_, err := retry.Do(context.Background(), fastPolicy, retry.Transient, func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("dial: %w", badURL)
	})
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
	assert.Equal(t, 1, calls)

	var perm *retry.PermanentError
	require.ErrorAs(t, err, &perm)
	assert.Same(t, badURL, error(perm), "already permanent errors are not wrapped again")
}

func TestDo_StopClassificationMarksPermanent(t *testing.T) {
	_, err := retry.Do(context.Background(), fastPolicy, func(error) retry.Action { return retry.Stop },
		func(context.Context) (int, error) { return 0, errTransient })
	assert.True(t, retry.IsPermanent(err))
	assert.ErrorIs(t, err, errTransient)
}

func TestDo_InvalidPolicy(t *testing.T) {
	_, err := retry.Do(context.Background(), retry.Policy{}, retry.Transient, failing(0, 1, new(int)))
	assert.ErrorContains(t, err, "MaxAttempts")
}

func TestDo_BackoffDoublesAndCaps(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var waits []time.Duration
	p := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     3 * time.Second,
		Clock:          clock,
		OnRetry:        func(_ int, _ error, d time.Duration) { waits = append(waits, d) },
	}

	done := make(chan error, 1)
	calls := 0
	go func() {
		_, err := retry.Do(context.Background(), p, retry.Transient, failing(4, 0, &calls))
		done <- err
	}()

	for range 4 {
		require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
		clock.Advance(3 * time.Second)
	}
	require.NoError(t, <-done)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, waits)
}

func TestDo_JitterStaysInRange(t *testing.T) {
	var waits []time.Duration
	p := retry.Policy{
		MaxAttempts:    20,
		InitialBackoff: 100 * time.Microsecond,
		MaxBackoff:     100 * time.Microsecond,
		Jitter:         0.5,
		OnRetry:        func(_ int, _ error, d time.Duration) { waits = append(waits, d) },
	}
	_, err := retry.Do(context.Background(), p, retry.Transient, failing(19, 0, new(int)))
	require.NoError(t, err)

	for _, w := range waits {
		assert.GreaterOrEqual(t, w, 50*time.Microsecond)
		assert.LessOrEqual(t, w, 150*time.Microsecond)
	}
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{MaxAttempts: 3, InitialBackoff: time.Hour, Clock: clock}

	done := make(chan error, 1)
	go func() {
		_, err := retry.Do(ctx, p, retry.Transient, failing(10, 0, new(int)))
		done <- err
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "context cancelled during retry")
}

func TestDo_CallerContextDoneIsNotPermanent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, err := retry.Do(ctx, fastPolicy, retry.Transient, func(context.Context) (int, error) {
		cancel()
		return 0, errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errTransient)
	assert.False(t, retry.IsPermanent(err))
}

func TestTransient(t *testing.T) {
	assert.Equal(t, retry.Retry, retry.Transient(errTransient))
	assert.Equal(t, retry.Stop, retry.Transient(context.Canceled))
	assert.Equal(t, retry.Retry, retry.Transient(fmt.Errorf("ping: %w", context.DeadlineExceeded)))
	assert.Equal(t, retry.Stop, retry.Transient(retry.Permanent(errTransient)))
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, retry.Permanent(nil))
}
