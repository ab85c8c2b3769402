// Package consumer receives delivered events and applies them
// idempotently. Sources adapt each transport; Digester is the bundled
// handler that keeps a content hash index of changed files.
package consumer

import (
	"context"

	"fstrack/internal/track"
)

// Handler processes one event. Returning an error leaves the event
// unacknowledged so the transport redelivers it.
type Handler func(ctx context.Context, event track.Event) error

// Source feeds events from a transport to a handler until ctx is done.
// Delivery is at least once: handlers must tolerate repeats.
type Source interface {
	Run(ctx context.Context, handle Handler) error
}
