// Package importer reconciles a crawl of a tree against the stored state
// of that tree, records what changed and queues a notification when
// anything did.
//
// An import runs in two transactions. Begin records the run. Reconcile
// loads the crawl into a staging table, merges it into entries, appends
// removals, stamps the counters on the run and, if anything changed,
// queues an ImportFinished event, all atomically.
package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"fstrack/internal/partition"
	"fstrack/internal/storage"
	"fstrack/internal/track"
)

var (
	ErrUnknownImport = errors.New("unknown import")
	ErrImportDone    = errors.New("import already finished")
)

// EventQueue queues an event inside a transaction. *outbox.Outbox
// implements it.
type EventQueue interface {
	Publish(ctx context.Context, tx storage.Tx, event track.Event) error
}

// Result summarises a finished import.
type Result struct {
	ImportID     string
	TreeID       int64
	StartedAt    time.Time
	FinishedAt   time.Time
	EntryCount   int64
	NewCount     int64
	ChangedCount int64
	DeletedCount int64
}

// Changed reports whether the import found any difference. An import
// that changed nothing leaves no record.
func (r *Result) Changed() bool {
	return r.NewCount+r.ChangedCount+r.DeletedCount > 0
}

// Importer runs imports.
type Importer struct {
	provider   storage.Provider
	events     EventQueue
	partitions *partition.Manager
	logger     track.Logger
	clock      track.Clock
	ids        track.IDGenerator
	policy     ChangePolicy
}

// Option configures an Importer.
type Option func(*Importer)

// WithChangePolicy selects how changes are detected. The default is
// PolicyMTime.
func WithChangePolicy(p ChangePolicy) Option {
	return func(im *Importer) { im.policy = p }
}

// WithClock overrides the clock stamping started_at and finished_at.
func WithClock(c track.Clock) Option {
	return func(im *Importer) { im.clock = c }
}

// WithIDGenerator overrides the import id source. Ids must sort in
// creation order.
func WithIDGenerator(g track.IDGenerator) Option {
	return func(im *Importer) { im.ids = g }
}

// New creates an Importer.
func New(provider storage.Provider, events EventQueue, partitions *partition.Manager, logger track.Logger, opts ...Option) *Importer {
	im := &Importer{
		provider:   provider,
		events:     events,
		partitions: partitions,
		logger:     logger,
		clock:      track.RealClock{},
		ids:        track.UUIDv7Generator{},
		policy:     PolicyMTime,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Import records a new run for treeID and reconciles src against the
// tree. Callers must not import the same tree concurrently. On failure
// nothing is left behind: the run record is discarded as well.
func (im *Importer) Import(ctx context.Context, treeID int64, src iter.Seq2[track.Entry, error]) (*Result, error) {
	importID, err := im.Begin(ctx, treeID)
	if err != nil {
		return nil, err
	}

	res, err := im.Reconcile(ctx, importID, treeID, src)
	if err != nil {
		if derr := im.discard(context.WithoutCancel(ctx), importID); derr != nil {
			im.logger.Warn("failed to discard import", "import", importID, "error", derr)
		}
		return nil, err
	}
	return res, nil
}

// Begin records the start of a run and returns its id.
func (im *Importer) Begin(ctx context.Context, treeID int64) (string, error) {
	if treeID <= 0 {
		return "", fmt.Errorf("%w: %d", partition.ErrInvalidTree, treeID)
	}

	importID := im.ids.New()
	err := im.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO imports (import_id, tree_id, started_at) VALUES ($1, $2, $3)`,
			importID, treeID, im.clock.Now().UTC())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("starting import of tree %d: %w", treeID, err)
	}

	im.logger.Debug("import started", "import", importID, "tree", treeID)
	return importID, nil
}

// Reconcile merges src into the tree in a single transaction. Any error,
// including one yielded by src, rolls the whole reconciliation back and
// leaves the run record of Begin untouched.
func (im *Importer) Reconcile(ctx context.Context, importID string, treeID int64, src iter.Seq2[track.Entry, error]) (*Result, error) {
	res := &Result{ImportID: importID, TreeID: treeID}

	err := im.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := im.checkRunning(ctx, tx, res); err != nil {
			return err
		}
		if err := im.partitions.Ensure(ctx, tx, treeID); err != nil {
			return err
		}

		n, err := im.stage(ctx, tx, importID, treeID, src)
		if err != nil {
			return err
		}
		res.EntryCount = n

		if err := im.merge(ctx, tx, res); err != nil {
			return err
		}
		return im.finish(ctx, tx, res)
	})
	if err != nil {
		return nil, fmt.Errorf("reconciling import %s of tree %d: %w", importID, treeID, err)
	}

	im.logger.Info("import finished",
		"import", importID,
		"tree", treeID,
		"entries", res.EntryCount,
		"new", res.NewCount,
		"changed", res.ChangedCount,
		"deleted", res.DeletedCount,
	)
	return res, nil
}

func (im *Importer) checkRunning(ctx context.Context, tx storage.Tx, res *Result) error {
	var finished sql.NullTime
	err := tx.QueryRow(ctx, `SELECT started_at, finished_at FROM imports WHERE import_id = $1 AND tree_id = $2`,
		res.ImportID, res.TreeID).Scan(&res.StartedAt, &finished)
	if errors.Is(err, storage.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUnknownImport, res.ImportID)
	}
	if err != nil {
		return fmt.Errorf("reading import: %w", err)
	}
	if finished.Valid {
		return fmt.Errorf("%w: %s", ErrImportDone, res.ImportID)
	}
	return nil
}

func (im *Importer) stage(ctx context.Context, tx storage.Tx, importID string, treeID int64, src iter.Seq2[track.Entry, error]) (int64, error) {
	d := tx.Dialect()
	if _, err := tx.Exec(ctx, d.TempTable(stagingTable, stagingDDL(d.TimestampType()))); err != nil {
		return 0, fmt.Errorf("creating staging table: %w", err)
	}

	rows := newEntryRows(src, treeID, importID)
	defer rows.Close()

	n, err := tx.CopyFrom(ctx, stagingTable, stagingColumns, rows)
	if err != nil {
		return 0, fmt.Errorf("loading entries: %w", err)
	}
	return n, nil
}

func (im *Importer) merge(ctx context.Context, tx storage.Tx, res *Result) error {
	upsert := fmt.Sprintf(`INSERT INTO entries (tree_id, path, type, bytes, mtime, ext1, first_discovery_at, last_change_at)
		SELECT tree_id, path, type, bytes, mtime, ext1, first_discovery_at, last_change_at FROM %[1]s WHERE true
		ON CONFLICT (tree_id, path) DO UPDATE SET
			type = excluded.type,
			bytes = excluded.bytes,
			mtime = excluded.mtime,
			last_change_at = excluded.last_change_at
		WHERE %[2]s`, stagingTable, im.policy.condition())
	if _, err := tx.Exec(ctx, upsert); err != nil {
		return fmt.Errorf("merging entries: %w", err)
	}

	gone := fmt.Sprintf(`NOT EXISTS (SELECT 1 FROM %s s WHERE s.path = entries.path)`, stagingTable)
	if _, err := tx.Exec(ctx, `INSERT INTO removed (tree_id, path, ext1, removed_at)
		SELECT tree_id, path, ext1, CAST($2 AS TEXT) FROM entries
		WHERE tree_id = $1 AND `+gone, res.TreeID, res.ImportID); err != nil {
		return fmt.Errorf("recording removals: %w", err)
	}

	deleted, err := tx.Exec(ctx, `DELETE FROM entries WHERE tree_id = $1 AND `+gone, res.TreeID)
	if err != nil {
		return fmt.Errorf("deleting removed entries: %w", err)
	}
	res.DeletedCount = deleted

	if _, err := tx.Exec(ctx, `DROP TABLE IF EXISTS `+stagingTable); err != nil {
		return fmt.Errorf("dropping staging table: %w", err)
	}

	err = tx.QueryRow(ctx, `SELECT
			(SELECT COUNT(*) FROM entries WHERE tree_id = $1 AND first_discovery_at = $2),
			(SELECT COUNT(*) FROM entries WHERE tree_id = $1 AND first_discovery_at <> $2 AND last_change_at = $2)`,
		res.TreeID, res.ImportID).Scan(&res.NewCount, &res.ChangedCount)
	if err != nil {
		return fmt.Errorf("counting changes: %w", err)
	}
	return nil
}

// finish stamps the run and queues its event, or deletes the run when it
// changed nothing.
func (im *Importer) finish(ctx context.Context, tx storage.Tx, res *Result) error {
	if !res.Changed() {
		if _, err := tx.Exec(ctx, `DELETE FROM imports WHERE import_id = $1`, res.ImportID); err != nil {
			return fmt.Errorf("discarding unchanged import: %w", err)
		}
		return nil
	}

	res.FinishedAt = im.clock.Now().UTC()
	_, err := tx.Exec(ctx, `UPDATE imports SET finished_at = $2, entry_count = $3, new_count = $4, changed_count = $5, deleted_count = $6
		WHERE import_id = $1`,
		res.ImportID, res.FinishedAt, res.EntryCount, res.NewCount, res.ChangedCount, res.DeletedCount)
	if err != nil {
		return fmt.Errorf("recording import counters: %w", err)
	}

	event, err := track.ImportFinished{
		ImportID:     res.ImportID,
		TreeID:       res.TreeID,
		EntryCount:   res.EntryCount,
		NewCount:     res.NewCount,
		ChangedCount: res.ChangedCount,
		DeletedCount: res.DeletedCount,
	}.Event()
	if err != nil {
		return err
	}
	return im.events.Publish(ctx, tx, event)
}

func (im *Importer) discard(ctx context.Context, importID string) error {
	return im.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM imports WHERE import_id = $1 AND finished_at IS NULL`, importID)
		return err
	})
}
