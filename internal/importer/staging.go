package importer

import (
	"fmt"
	"iter"

	"fstrack/internal/track"
)

const stagingTable = "import_staging"

var stagingColumns = []string{
	"path", "type", "bytes", "mtime", "ext1", "tree_id", "first_discovery_at", "last_change_at",
}

func stagingDDL(timestampType string) string {
	return fmt.Sprintf(`path TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		bytes BIGINT NOT NULL,
		mtime %s NOT NULL,
		ext1 TEXT NOT NULL,
		tree_id BIGINT NOT NULL,
		first_discovery_at TEXT NOT NULL,
		last_change_at TEXT NOT NULL`, timestampType)
}

// entryRows adapts a crawl to storage.RowSource, pulling one entry per
// row so the crawl never runs ahead of the bulk load.
type entryRows struct {
	next     func() (track.Entry, error, bool)
	stop     func()
	treeID   int64
	importID string

	values []any
	err    error
}

func newEntryRows(src iter.Seq2[track.Entry, error], treeID int64, importID string) *entryRows {
	next, stop := iter.Pull2(src)
	return &entryRows{next: next, stop: stop, treeID: treeID, importID: importID}
}

func (r *entryRows) Next() bool {
	if r.err != nil {
		return false
	}
	e, err, ok := r.next()
	if !ok {
		return false
	}
	if err != nil {
		r.err = fmt.Errorf("reading entries: %w", err)
		return false
	}
	if err := e.Validate(); err != nil {
		r.err = err
		return false
	}
	r.values = []any{
		e.Path,
		string(e.Type),
		e.Bytes,
		track.NormalizeMTime(e.MTime),
		track.Ext1(e.Path),
		r.treeID,
		r.importID,
		r.importID,
	}
	return true
}

func (r *entryRows) Values() ([]any, error) { return r.values, nil }

func (r *entryRows) Err() error { return r.err }

// Close stops the underlying crawl if it has not finished.
func (r *entryRows) Close() { r.stop() }
