package track

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// EntryType classifies a filesystem object.
type EntryType string

const (
	TypeFile      EntryType = "file"
	TypeDirectory EntryType = "directory"
	TypeLink      EntryType = "link"
	TypeOther     EntryType = "other"
)

// Valid reports whether t is one of the known entry types.
func (t EntryType) Valid() bool {
	switch t {
	case TypeFile, TypeDirectory, TypeLink, TypeOther:
		return true
	}
	return false
}

var ErrInvalidEntry = errors.New("invalid entry")

// Entry is one observation of a filesystem object produced by a crawl.
// Path is the natural key within a tree.
type Entry struct {
	Path  string
	Type  EntryType
	Bytes int64
	MTime time.Time
}

// Validate checks the fields the importer depends on.
func (e Entry) Validate() error {
	if e.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidEntry)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %s: unknown type %q", ErrInvalidEntry, e.Path, e.Type)
	}
	if e.Bytes < 0 {
		return fmt.Errorf("%w: %s: negative size", ErrInvalidEntry, e.Path)
	}
	return nil
}

// Ext1 returns the coarse bucket for a path: the lower-cased extension
// including the dot, or the lower-cased base name when there is none.
func Ext1(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" {
		return strings.ToLower(ext)
	}
	return strings.ToLower(base)
}

// NormalizeMTime reduces t to the precision both storage engines keep.
func NormalizeMTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
