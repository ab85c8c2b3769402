package publisher

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sony/gobreaker"

	"fstrack/internal/track"
)

// Breaker stops calling a failing publisher for a while. While open,
// Publish fails fast with gobreaker.ErrOpenState and the outbox keeps
// retrying on its own schedule.
type Breaker struct {
	next track.Publisher
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker opens after maxFailures consecutive failures and lets one
// trial call through after openTimeout.
func NewBreaker(name string, next track.Publisher, maxFailures uint32, openTimeout time.Duration, logger track.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("publisher breaker state changed", "publisher", name, "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) Publish(ctx context.Context, event track.Event) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Publish(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("publisher %s: %w", b.cb.Name(), err)
	}
	return nil
}

// Close closes the wrapped publisher if it holds resources.
func (b *Breaker) Close() error {
	if c, ok := b.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Unwrap returns the wrapped publisher.
func (b *Breaker) Unwrap() track.Publisher {
	return b.next
}

// State reports the breaker state ("closed", "open" or "half-open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}

var _ track.Publisher = (*Breaker)(nil)
