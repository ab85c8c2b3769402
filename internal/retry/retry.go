// Package retry runs an operation until it succeeds, backing off
// exponentially between attempts.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

const maxShift = 62

// Policy is the backoff schedule: Initial, doubled after each failure,
// capped at Max.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultPolicy starts at 125ms and caps at 30s.
func DefaultPolicy() Policy {
	return Policy{Initial: 125 * time.Millisecond, Max: 30 * time.Second}
}

// Delay returns the wait after the given zero-based failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Initial <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt
	d := time.Duration(math.MaxInt64)
	if int64(p.Initial) <= math.MaxInt64/multiplier {
		d = time.Duration(int64(p.Initial) * multiplier)
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

type settings struct {
	policy  Policy
	onError func(err error, attempt int, delay time.Duration)
}

// Option configures Do.
type Option func(*settings)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(s *settings) { s.policy = p }
}

// OnError registers a callback invoked after every failed attempt, before
// sleeping.
func OnError(fn func(err error, attempt int, delay time.Duration)) Option {
	return func(s *settings) { s.onError = fn }
}

// Do calls fn until it returns nil or ctx is done. There is no attempt
// limit. The error returned on cancellation wraps both ctx.Err() and the
// last failure.
func Do(ctx context.Context, fn func(context.Context) error, opts ...Option) error {
	s := settings{policy: DefaultPolicy()}
	for _, opt := range opts {
		opt(&s)
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry abandoned: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		delay := s.policy.Delay(attempt)
		if s.onError != nil {
			s.onError(err, attempt, delay)
		}
		if serr := Sleep(ctx, delay); serr != nil {
			return fmt.Errorf("retry abandoned after %d attempts: %w (last error: %w)", attempt+1, serr, err)
		}
	}
}

// Sleep waits for d or until ctx is done, whichever is first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
