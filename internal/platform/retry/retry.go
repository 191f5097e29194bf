// Package retry runs an operation until it succeeds, fails permanently or
// runs out of attempts, sleeping with capped exponential backoff between
// tries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, back off and try again
)

type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration // zero means uncapped
	// Jitter spreads each backoff by up to this fraction in either
	// direction so restarting instances do not dial a broker in lockstep.
	Jitter  float64
	Clock   clockwork.Clock // nil means the real clock
	OnRetry func(attempt int, err error, backoff time.Duration)
}

type Classify func(err error) Action

// Transient retries everything except cancellation and errors marked with
// Permanent. A deadline inside op, such as a dial timeout, is retried.
func Transient(err error) Action {
	if errors.Is(err, context.Canceled) || IsPermanent(err) {
		return Stop
	}
	return Retry
}

// Do calls op until it succeeds. A Stop classification returns the error
// marked permanent; exhausting MaxAttempts returns the last error wrapped
// with the attempt count.
func Do[T any](ctx context.Context, p Policy, classify Classify, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, errors.New("retry: MaxAttempts must be at least 1")
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	backoff := p.InitialBackoff
	for attempt := 1; ; attempt++ {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("context cancelled during retry: %w", errors.Join(ctx.Err(), err))
		}

		if classify(err) == Stop {
			return zero, Permanent(err)
		}
		if attempt == p.MaxAttempts {
			return zero, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, err)
		}

		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
		wait := jittered(backoff, p.Jitter)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		select {
		case <-clock.After(wait):
			backoff *= 2
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}
}

func jittered(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * fraction
	return d + time.Duration((rand.Float64()*2-1)*spread)
}

type PermanentError struct {
	Err error
}

// Permanent marks err so that Transient stops retrying it. Already
// permanent errors are returned unchanged.
func Permanent(err error) error {
	if err == nil || IsPermanent(err) {
		return err
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
