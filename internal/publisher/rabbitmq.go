package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"fstrack/internal/track"
)

// ErrNacked is returned when the broker refuses a message.
var ErrNacked = errors.New("message nacked by broker")

// RabbitMQ publishes persistent messages with publisher confirms. The
// connection is opened on first use and dropped after any failure, so the
// next attempt redials.
type RabbitMQ struct {
	url        string
	exchange   string
	routingKey string
	logger     track.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewRabbitMQ creates a publisher. With an empty exchange the routing key
// names a durable queue that is declared on connect.
func NewRabbitMQ(url, exchange, routingKey string, logger track.Logger) *RabbitMQ {
	return &RabbitMQ{url: url, exchange: exchange, routingKey: routingKey, logger: logger}
}

func (r *RabbitMQ) Publish(ctx context.Context, event track.Event) error {
	body, err := Encode(event)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.channel()
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, r.exchange, r.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         event.Name,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		r.reset()
		return fmt.Errorf("publishing %s to rabbitmq: %w", event.ID, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		r.reset()
		return fmt.Errorf("waiting for confirm of %s: %w", event.ID, err)
	}
	if !acked {
		return fmt.Errorf("publishing %s: %w", event.ID, ErrNacked)
	}
	return nil
}

// channel returns the open confirm-mode channel, dialing if needed.
// Caller must hold r.mu.
func (r *RabbitMQ) channel() (*amqp.Channel, error) {
	if r.ch != nil && !r.ch.IsClosed() {
		return r.ch, nil
	}
	r.reset()

	conn, err := amqp.Dial(r.url)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening rabbitmq channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling publisher confirms: %w", err)
	}
	if r.exchange == "" {
		if _, err := ch.QueueDeclare(r.routingKey, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declaring queue %s: %w", r.routingKey, err)
		}
	}

	r.conn, r.ch = conn, ch
	r.logger.Debug("rabbitmq connected", "exchange", r.exchange, "routing_key", r.routingKey)
	return ch, nil
}

// reset drops the current connection. Caller must hold r.mu.
func (r *RabbitMQ) reset() {
	if r.ch != nil {
		r.ch.Close()
		r.ch = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
	return nil
}

var _ track.Publisher = (*RabbitMQ)(nil)
