package publisher

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	"fstrack/internal/track"
)

// Stream entry fields.
const (
	FieldID      = "id"
	FieldName    = "name"
	FieldPayload = "payload"
)

// RedisStream appends events to a Redis stream with XADD.
type RedisStream struct {
	client redis.Cmdable
	stream string
}

func NewRedisStream(client redis.Cmdable, stream string) *RedisStream {
	return &RedisStream{client: client, stream: stream}
}

func (r *RedisStream) Publish(ctx context.Context, event track.Event) error {
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			FieldID:      event.ID,
			FieldName:    event.Name,
			FieldPayload: string(event.Payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("adding %s to stream %s: %w", event.ID, r.stream, err)
	}
	return nil
}

// Close closes the client when the publisher owns one.
func (r *RedisStream) Close() error {
	if c, ok := r.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// EventFromStream rebuilds an event from the fields of a stream message.
func EventFromStream(values map[string]any) (track.Event, error) {
	id, _ := values[FieldID].(string)
	if id == "" {
		return track.Event{}, fmt.Errorf("stream message missing %q", FieldID)
	}
	name, _ := values[FieldName].(string)
	payload, _ := values[FieldPayload].(string)
	return track.Event{ID: id, Name: name, Payload: []byte(payload)}, nil
}

var _ track.Publisher = (*RedisStream)(nil)
