// Package outbox implements a transactional outbox. Events are written in
// the same transaction as the state change they describe and delivered
// after that transaction commits, retrying until the publisher accepts
// them. An outbox row exists until its event has been delivered.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fstrack/internal/retry"
	"fstrack/internal/storage"
	"fstrack/internal/track"
)

// DefaultBatchSize is the number of rows Recover locks per round.
const DefaultBatchSize = 100

// ErrClosed is returned by Recover after Close.
var ErrClosed = errors.New("outbox closed")

const (
	insertEvent = `INSERT INTO outbox (id, name, payload, created_at) VALUES ($1, $2, $3, $4)`
	lockEvent   = `SELECT id FROM outbox WHERE id = $1`
	lockBatch   = `SELECT id, name, payload FROM outbox ORDER BY created_at, id LIMIT $1`
	deleteEvent = `DELETE FROM outbox WHERE id = $1`
	countEvents = `SELECT COUNT(*) FROM outbox`
)

// Outbox queues events transactionally and delivers them.
type Outbox struct {
	provider  storage.Provider
	publisher track.Publisher
	logger    track.Logger
	clock     track.Clock
	policy    retry.Policy
	batchSize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Option configures an Outbox.
type Option func(*Outbox)

// WithRetryPolicy sets the backoff used by post-commit delivery.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Outbox) { o.policy = p }
}

// WithBatchSize sets how many rows Recover takes per round.
func WithBatchSize(n int) Option {
	return func(o *Outbox) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithClock overrides the clock stamping created_at.
func WithClock(c track.Clock) Option {
	return func(o *Outbox) { o.clock = c }
}

// New creates an Outbox delivering to publisher.
func New(provider storage.Provider, publisher track.Publisher, logger track.Logger, opts ...Option) *Outbox {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbox{
		provider:  provider,
		publisher: publisher,
		logger:    logger,
		clock:     track.RealClock{},
		policy:    retry.DefaultPolicy(),
		batchSize: DefaultBatchSize,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Publish queues event in tx. Delivery starts once tx commits and runs in
// the background; nothing is delivered if tx rolls back. Publish never
// blocks on the publisher.
func (o *Outbox) Publish(ctx context.Context, tx storage.Tx, event track.Event) error {
	if _, err := tx.Exec(ctx, insertEvent, event.ID, event.Name, []byte(event.Payload), o.clock.Now().UTC()); err != nil {
		return fmt.Errorf("queueing event %s: %w", event.ID, err)
	}

	tx.OnCommit(func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.closed {
			o.logger.Warn("outbox closed, event left for recovery", "id", event.ID)
			return
		}
		o.wg.Add(1)
		go o.deliverLoop(event)
	})
	return nil
}

func (o *Outbox) deliverLoop(event track.Event) {
	defer o.wg.Done()

	err := retry.Do(o.ctx, func(ctx context.Context) error {
		return o.deliver(ctx, event)
	},
		retry.WithPolicy(o.policy),
		retry.OnError(func(err error, attempt int, delay time.Duration) {
			o.logger.Warn("event delivery failed", "id", event.ID, "attempt", attempt+1, "retry_in", delay, "error", err)
		}),
	)
	if err != nil {
		o.logger.Warn("event delivery abandoned, left for recovery", "id", event.ID, "error", err)
	}
}

// deliver publishes event if its row is still queued and removes the row.
// The row lock keeps a concurrent Recover from publishing it as well.
func (o *Outbox) deliver(ctx context.Context, event track.Event) error {
	return o.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var id string
		err := tx.QueryRow(ctx, lockEvent+tx.Dialect().ForUpdate(false), event.ID).Scan(&id)
		if errors.Is(err, storage.ErrNoRows) {
			o.logger.Debug("event already delivered", "id", event.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("locking event %s: %w", event.ID, err)
		}

		if err := o.publishAndDelete(ctx, tx, event); err != nil {
			return err
		}
		o.logger.Info("event delivered", "id", event.ID, "name", event.Name)
		return nil
	})
}

func (o *Outbox) publishAndDelete(ctx context.Context, tx storage.Tx, event track.Event) error {
	if err := o.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("publishing event %s: %w", event.ID, err)
	}
	if _, err := tx.Exec(ctx, deleteEvent, event.ID); err != nil {
		return fmt.Errorf("removing delivered event %s: %w", event.ID, err)
	}
	return nil
}

// Recover delivers every queued event in one transaction, a batch at a
// time, skipping rows another delivery holds. A publisher error aborts the
// sweep and rolls it back; the rows stay queued. It returns the number of
// events delivered.
func (o *Outbox) Recover(ctx context.Context) (int, error) {
	if o.isClosed() {
		return 0, ErrClosed
	}

	delivered := 0
	err := o.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		query := lockBatch + tx.Dialect().ForUpdate(true)
		for {
			batch, err := o.lockBatch(ctx, tx, query)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				return nil
			}
			for _, event := range batch {
				if err := o.publishAndDelete(ctx, tx, event); err != nil {
					return err
				}
				delivered++
			}
		}
	})
	if err != nil {
		return 0, fmt.Errorf("recovering outbox: %w", err)
	}
	if delivered > 0 {
		o.logger.Info("outbox recovered", "delivered", delivered)
	}
	return delivered, nil
}

func (o *Outbox) lockBatch(ctx context.Context, tx storage.Tx, query string) ([]track.Event, error) {
	rows, err := tx.Query(ctx, query, o.batchSize)
	if err != nil {
		return nil, fmt.Errorf("locking outbox batch: %w", err)
	}
	defer rows.Close()

	var batch []track.Event
	for rows.Next() {
		var (
			event   track.Event
			payload []byte
		)
		if err := rows.Scan(&event.ID, &event.Name, &payload); err != nil {
			return nil, fmt.Errorf("reading outbox row: %w", err)
		}
		event.Payload = payload
		batch = append(batch, event)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("reading outbox batch: %w", err)
	}
	return batch, nil
}

// RunRecovery calls Recover immediately and then every interval until ctx
// is done or the outbox is closed. Failures are logged.
func (o *Outbox) RunRecovery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := o.Recover(ctx); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			if ctx.Err() == nil {
				o.logger.Error("outbox recovery failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-o.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Pending returns the number of undelivered events.
func (o *Outbox) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := o.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.QueryRow(ctx, countEvents).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("counting pending events: %w", err)
	}
	return n, nil
}

// Wait blocks until every background delivery has finished.
func (o *Outbox) Wait() {
	o.wg.Wait()
}

// Shutdown waits for background deliveries until ctx is done, then
// abandons the rest. Abandoned events stay queued for Recover.
func (o *Outbox) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.Close()
		return nil
	case <-ctx.Done():
		o.Close()
		return ctx.Err()
	}
}

// Close stops background deliveries and waits for them to return.
// Queued events are left for the next Recover.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
}

func (o *Outbox) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
