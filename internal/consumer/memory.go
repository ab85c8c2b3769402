package consumer

import (
	"context"
	"time"

	"fstrack/internal/retry"
	"fstrack/internal/track"
)

// MemorySource reads from an in-process channel, typically
// publisher.Memory.Events(). A failing event is retried in place until it
// succeeds or ctx is done.
type MemorySource struct {
	events <-chan track.Event
	logger track.Logger
	policy retry.Policy
}

func NewMemorySource(events <-chan track.Event, logger track.Logger) *MemorySource {
	return &MemorySource{events: events, logger: logger, policy: retry.DefaultPolicy()}
}

func (s *MemorySource) Run(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-s.events:
			if !ok {
				return nil
			}
			err := retry.Do(ctx, func(ctx context.Context) error {
				return handle(ctx, event)
			}, retry.WithPolicy(s.policy), retry.OnError(func(err error, attempt int, delay time.Duration) {
				s.logger.Warn("event handling failed", "id", event.ID, "attempt", attempt, "retry_in", delay, "error", err)
			}))
			if err != nil {
				return nil
			}
		}
	}
}

var _ Source = (*MemorySource)(nil)
