package app

import (
	"time"

	"fstrack/internal/track"
)

// Run identifies one CLI invocation. Its ID tags every log line the
// invocation writes.
type Run struct {
	ID        string
	Command   string
	StartedAt time.Time
}

// NewRun creates a run for command started now.
func NewRun(command string, clock track.Clock) *Run {
	now := clock.Now().UTC()
	return &Run{
		ID:        now.Format("20060102T150405Z"),
		Command:   command,
		StartedAt: now,
	}
}

// Elapsed returns the time since the run started.
func (r *Run) Elapsed(clock track.Clock) time.Duration {
	return clock.Now().Sub(r.StartedAt)
}
