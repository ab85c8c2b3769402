package consumer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fstrack/internal/publisher"
	"fstrack/internal/track"
)

// BadExt is appended to spool files that cannot be decoded.
const BadExt = ".bad"

// SpoolSource polls a spool directory written by publisher.Spool. Files
// are handled in name order and removed once handled.
type SpoolSource struct {
	dir      string
	interval time.Duration
	logger   track.Logger
}

func NewSpoolSource(dir string, interval time.Duration, logger track.Logger) *SpoolSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &SpoolSource{dir: dir, interval: interval, logger: logger}
}

func (s *SpoolSource) Run(ctx context.Context, handle Handler) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Drain(ctx, handle); err != nil {
			s.logger.Warn("spool drain failed", "dir", s.dir, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain handles every file currently spooled and returns how many were
// consumed. It stops at the first handler error, leaving that file and
// the ones after it for the next pass.
func (s *SpoolSource) Drain(ctx context.Context, handle Handler) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("reading spool: %w", err)
	}

	handled := 0
	for _, de := range entries {
		name := de.Name()
		if !de.Type().IsRegular() || strings.HasPrefix(name, ".") || filepath.Ext(name) != publisher.SpoolExt {
			continue
		}
		if err := ctx.Err(); err != nil {
			return handled, nil
		}

		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return handled, fmt.Errorf("reading %s: %w", name, err)
		}
		event, err := publisher.Decode(data)
		if err != nil {
			s.logger.Error("quarantining malformed spool file", "file", name, "error", err)
			if err := os.Rename(path, path+BadExt); err != nil {
				return handled, fmt.Errorf("quarantining %s: %w", name, err)
			}
			continue
		}

		if err := handle(ctx, event); err != nil {
			s.logger.Warn("event handling failed", "id", event.ID, "error", err)
			return handled, nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return handled, fmt.Errorf("removing %s: %w", name, err)
		}
		handled++
	}
	return handled, nil
}

var _ Source = (*SpoolSource)(nil)
