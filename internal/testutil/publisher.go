package testutil

import (
	"context"
	"errors"
	"sync"

	"fstrack/internal/track"
)

// ErrPublishFailed is returned by RecordingPublisher while failing.
var ErrPublishFailed = errors.New("publish failed")

// RecordingPublisher records every event it accepts. It can be told to
// fail a number of calls first. Safe for concurrent use.
type RecordingPublisher struct {
	mu        sync.Mutex
	events    []track.Event
	failures  int
	attempts  int
	delivered chan struct{}
}

// NewRecordingPublisher creates a publisher that fails the first
// `failures` calls.
func NewRecordingPublisher(failures int) *RecordingPublisher {
	return &RecordingPublisher{failures: failures, delivered: make(chan struct{}, 1024)}
}

func (p *RecordingPublisher) Publish(_ context.Context, event track.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	if p.failures > 0 {
		p.failures--
		return ErrPublishFailed
	}
	p.events = append(p.events, event)
	select {
	case p.delivered <- struct{}{}:
	default:
	}
	return nil
}

// SetFailures makes the next n calls fail.
func (p *RecordingPublisher) SetFailures(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
}

// Events returns a copy of the accepted events.
func (p *RecordingPublisher) Events() []track.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]track.Event(nil), p.events...)
}

// Attempts returns the number of Publish calls, failed or not.
func (p *RecordingPublisher) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Delivered is signalled after each accepted event.
func (p *RecordingPublisher) Delivered() <-chan struct{} {
	return p.delivered
}

// CountByID returns how many times each event id was accepted.
func (p *RecordingPublisher) CountByID() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range p.events {
		counts[e.ID]++
	}
	return counts
}
