package publisher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"fstrack/internal/track"
)

// SpoolExt is the extension of spooled event files.
const SpoolExt = ".json"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Spool writes each event as a file in a directory:
//
//	<dir>/
//	  <event id>.json   (one Envelope per file)
//
// Writes are atomic (temp file + rename), and re-publishing an event
// overwrites the same file.
type Spool struct {
	dir string
}

// NewSpool creates the spool directory if needed.
func NewSpool(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	return &Spool{dir: dir}, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string {
	return s.dir
}

// FileName returns the file an event id is spooled to.
func FileName(eventID string) string {
	return unsafeName.ReplaceAllString(eventID, "_") + SpoolExt
}

func (s *Spool) Publish(ctx context.Context, event track.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(event)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.dir, FileName(event.ID)), data)
}

// writeFileAtomic writes data to destPath using a temp file in the same
// directory and a rename.
func writeFileAtomic(destPath string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ track.Publisher = (*Spool)(nil)
