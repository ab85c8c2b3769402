package consumer

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"fstrack/internal/publisher"
	"fstrack/internal/retry"
	"fstrack/internal/track"
)

// RabbitMQSource consumes a durable queue with manual acks. Handler
// failures are nacked with requeue; the connection is redialled with
// backoff when it drops.
type RabbitMQSource struct {
	url      string
	queue    string
	prefetch int
	logger   track.Logger
	policy   retry.Policy
}

func NewRabbitMQSource(url, queue string, logger track.Logger) *RabbitMQSource {
	return &RabbitMQSource{url: url, queue: queue, prefetch: 16, logger: logger, policy: retry.DefaultPolicy()}
}

func (s *RabbitMQSource) Run(ctx context.Context, handle Handler) error {
	for attempt := 1; ; attempt++ {
		consumed, err := s.consume(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if consumed {
			attempt = 1
		}
		delay := s.policy.Delay(attempt)
		s.logger.Warn("rabbitmq consumer disconnected", "queue", s.queue, "retry_in", delay, "error", err)
		if err := retry.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// consume runs one connection until it fails. It reports whether any
// delivery was received.
func (s *RabbitMQSource) consume(ctx context.Context, handle Handler) (bool, error) {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return false, fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return false, fmt.Errorf("opening rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		return false, fmt.Errorf("declaring queue %s: %w", s.queue, err)
	}
	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		return false, fmt.Errorf("setting prefetch: %w", err)
	}
	deliveries, err := ch.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		return false, fmt.Errorf("consuming %s: %w", s.queue, err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	consumed := false
	for {
		select {
		case <-ctx.Done():
			return consumed, nil
		case amqpErr := <-closed:
			return consumed, fmt.Errorf("connection closed: %v", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return consumed, errors.New("delivery channel closed")
			}
			consumed = true
			s.deliver(ctx, d, handle)
		}
	}
}

func (s *RabbitMQSource) deliver(ctx context.Context, d amqp.Delivery, handle Handler) {
	event, err := publisher.Decode(d.Body)
	if err != nil {
		s.logger.Error("dropping malformed message", "message_id", d.MessageId, "error", err)
		d.Nack(false, false)
		return
	}
	if err := handle(ctx, event); err != nil {
		s.logger.Warn("event handling failed, requeueing", "id", event.ID, "error", err)
		retry.Sleep(ctx, s.policy.Initial)
		d.Nack(false, true)
		return
	}
	if err := d.Ack(false); err != nil {
		s.logger.Warn("ack failed", "id", event.ID, "error", err)
	}
}

var _ Source = (*RabbitMQSource)(nil)
