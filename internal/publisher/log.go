package publisher

import (
	"context"

	"fstrack/internal/track"
)

// Log writes events to a logger. It never fails.
type Log struct {
	logger track.Logger
}

func NewLog(logger track.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Publish(_ context.Context, event track.Event) error {
	l.logger.Info("event published", "id", event.ID, "name", event.Name, "payload", string(event.Payload))
	return nil
}

var _ track.Publisher = (*Log)(nil)
