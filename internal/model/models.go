package model

import (
	"database/sql"
	"time"
)

// Tree is a registered filesystem tree.
type Tree struct {
	ID        int64
	RootPath  string // Absolute path crawled for this tree; empty when unknown
	CreatedAt time.Time
}

// Import is the audit record of one reconciliation run.
type Import struct {
	ID           string // UUIDv7, orders by start time
	TreeID       int64
	StartedAt    time.Time
	FinishedAt   sql.NullTime // Unset while the run is in progress
	EntryCount   int64
	NewCount     int64
	ChangedCount int64
	DeletedCount int64
}

// Changed reports whether the run touched anything.
func (i *Import) Changed() bool {
	return i.NewCount+i.ChangedCount+i.DeletedCount > 0
}

// Entry is the live state of one path in a tree.
type Entry struct {
	TreeID           int64
	Path             string
	Type             string
	Bytes            int64
	MTime            time.Time
	Ext1             string
	FirstDiscoveryAt string // Import that first saw the path
	LastChangeAt     string // Import that last saw the path change
}

// Removed records that a path disappeared in an import.
type Removed struct {
	TreeID    int64
	Path      string
	Ext1      string
	RemovedAt string // Import that noticed the removal
}

// Digest is the content hash kept by the digest consumer.
type Digest struct {
	TreeID int64
	Path   string
	Ver    string // Import the hash was computed for
	SHA256 string
	Bytes  int64
}
