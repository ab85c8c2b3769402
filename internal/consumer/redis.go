package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"fstrack/internal/publisher"
	"fstrack/internal/retry"
	"fstrack/internal/track"
)

// RedisSource reads a stream through a consumer group. Messages stay
// pending until handled; pending messages are re-read on start and after
// a handler failure.
type RedisSource struct {
	client   redis.Cmdable
	stream   string
	group    string
	consumer string
	block    time.Duration
	logger   track.Logger
	policy   retry.Policy
}

// NewRedisSource creates a source reading stream as consumer within group.
func NewRedisSource(client redis.Cmdable, stream, group, consumer string, logger track.Logger) *RedisSource {
	return &RedisSource{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    time.Second,
		logger:   logger,
		policy:   retry.DefaultPolicy(),
	}
}

func (s *RedisSource) Run(ctx context.Context, handle Handler) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %s: %w", s.group, err)
	}

	pending := true
	failures := 0
	for ctx.Err() == nil {
		start := ">"
		if pending {
			start = "0"
		}
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, start},
			Count:    16,
			Block:    s.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			pending = false
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			delay := s.policy.Delay(failures)
			s.logger.Warn("reading stream failed", "stream", s.stream, "retry_in", delay, "error", err)
			retry.Sleep(ctx, delay)
			continue
		}

		var msgs []redis.XMessage
		if len(streams) > 0 {
			msgs = streams[0].Messages
		}
		if pending && len(msgs) == 0 {
			pending = false
			continue
		}

		if s.handleAll(ctx, msgs, handle) {
			failures = 0
			continue
		}
		pending = true
		failures++
		retry.Sleep(ctx, s.policy.Delay(failures))
	}
	return nil
}

// handleAll handles and acks msgs, reporting whether all succeeded.
func (s *RedisSource) handleAll(ctx context.Context, msgs []redis.XMessage, handle Handler) bool {
	ok := true
	for _, m := range msgs {
		event, err := publisher.EventFromStream(m.Values)
		if err != nil {
			s.logger.Error("dropping malformed message", "message_id", m.ID, "error", err)
			s.ack(ctx, m.ID)
			continue
		}
		if err := handle(ctx, event); err != nil {
			s.logger.Warn("event handling failed", "id", event.ID, "error", err)
			ok = false
			continue
		}
		s.ack(ctx, m.ID)
	}
	return ok
}

func (s *RedisSource) ack(ctx context.Context, id string) {
	if err := s.client.XAck(ctx, s.stream, s.group, id).Err(); err != nil {
		s.logger.Warn("ack failed", "message_id", id, "error", err)
	}
}

var _ Source = (*RedisSource)(nil)
