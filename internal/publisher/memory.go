package publisher

import (
	"context"
	"fmt"

	"fstrack/internal/track"
)

// Memory is an in-process publisher backed by a buffered channel.
// Publish never blocks: when the buffer is full it fails with ErrQueueFull
// and the outbox retries later.
type Memory struct {
	ch chan track.Event
}

// NewMemory creates a Memory publisher buffering up to size events.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 1
	}
	return &Memory{ch: make(chan track.Event, size)}
}

func (m *Memory) Publish(ctx context.Context, event track.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case m.ch <- event:
		return nil
	default:
		return fmt.Errorf("publishing %s: %w", event.ID, ErrQueueFull)
	}
}

// Events returns the channel consumers read from.
func (m *Memory) Events() <-chan track.Event {
	return m.ch
}

var _ track.Publisher = (*Memory)(nil)
