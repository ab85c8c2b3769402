package testutil

import (
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fstrack/internal/track"
)

// File builds a regular-file entry.
func File(path string, bytes int64, mtime time.Time) track.Entry {
	return track.Entry{Path: path, Type: track.TypeFile, Bytes: bytes, MTime: mtime}
}

// Dir builds a directory entry.
func Dir(path string, mtime time.Time) track.Entry {
	return track.Entry{Path: path, Type: track.TypeDirectory, MTime: mtime}
}

// Snapshot yields the given entries in order.
func Snapshot(entries ...track.Entry) iter.Seq2[track.Entry, error] {
	return func(yield func(track.Entry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// FailingSnapshot yields entries and then err, as a crawl that breaks
// part way through.
func FailingSnapshot(err error, entries ...track.Entry) iter.Seq2[track.Entry, error] {
	return func(yield func(track.Entry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
		yield(track.Entry{}, err)
	}
}

// WriteTree creates files under root. Keys are slash-separated relative
// paths; intermediate directories are created as needed.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("creating parent of %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
}

// Touch sets the modification time of path.
func Touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()

	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("touching %s: %v", path, err)
	}
}
