// Package fs crawls filesystem trees and produces the entries the
// importer reconciles.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"fstrack/internal/track"
)

var errStop = errors.New("stop walking")

// Crawler walks a tree without following links.
type Crawler struct {
	ignore *IgnoreMatcher
	logger track.Logger
}

// NewCrawler creates a crawler. ignore may be nil.
func NewCrawler(ignore *IgnoreMatcher, logger track.Logger) *Crawler {
	if ignore == nil {
		ignore = NewIgnoreMatcher(nil)
	}
	return &Crawler{ignore: ignore, logger: logger}
}

// Walk yields every entry below root, root excluded, in lexical order.
// Paths are absolute. Entries that cannot be read are logged and skipped;
// the sequence yields an error only when root itself is unusable or ctx
// is done, and stops after it.
//
// Walk is lazy: the tree is read as the consumer pulls.
func (c *Crawler) Walk(ctx context.Context, root string) iter.Seq2[track.Entry, error] {
	return func(yield func(track.Entry, error) bool) {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			yield(track.Entry{}, fmt.Errorf("resolving root: %w", err))
			return
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			yield(track.Entry{}, fmt.Errorf("opening root: %w", err))
			return
		}
		if !info.IsDir() {
			yield(track.Entry{}, fmt.Errorf("root is not a directory: %s", absRoot))
			return
		}

		err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if err != nil {
				if path == absRoot {
					return err
				}
				c.logger.Warn("skipping unreadable entry", "path", path, "error", err)
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if path == absRoot {
				return nil
			}

			rel, err := filepath.Rel(absRoot, path)
			if err != nil {
				return err
			}
			if c.ignore.Match(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			fi, err := d.Info()
			if err != nil {
				// Vanished between readdir and lstat.
				c.logger.Warn("skipping unreadable entry", "path", path, "error", err)
				return nil
			}

			entry := track.Entry{
				Path:  path,
				Type:  entryType(fi.Mode()),
				Bytes: fi.Size(),
				MTime: fi.ModTime(),
			}
			if !yield(entry, nil) {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield(track.Entry{}, fmt.Errorf("walking %s: %w", absRoot, err))
		}
	}
}

func entryType(mode fs.FileMode) track.EntryType {
	switch {
	case mode.IsRegular():
		return track.TypeFile
	case mode.IsDir():
		return track.TypeDirectory
	case mode&fs.ModeSymlink != 0:
		return track.TypeLink
	default:
		return track.TypeOther
	}
}
