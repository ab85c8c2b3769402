// Package watch re-imports trees when their filesystem changes.
package watch

import (
	"context"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"fstrack/internal/fs"
	"fstrack/internal/track"
)

// TriggerFunc is called once per quiet period after a tree changed.
type TriggerFunc func(ctx context.Context, treeID int64)

type tree struct {
	id        int64
	root      string
	ignore    *fs.IgnoreMatcher
	debouncer *Debouncer
}

// Watcher watches the directories of registered trees recursively.
// fsnotify is not recursive, so directories created later are added as
// they appear.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	trigger  TriggerFunc
	logger   track.Logger

	mu      sync.RWMutex
	trees   []*tree
	closed  bool
	running sync.WaitGroup
	once    sync.Once
}

// New creates a watcher that calls trigger debounce after the last change
// seen in a tree.
func New(debounce time.Duration, trigger TriggerFunc, logger track.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{fsw: fsw, debounce: debounce, trigger: trigger, logger: logger}, nil
}

// Add starts watching root for treeID. ignore may be nil.
func (w *Watcher) Add(treeID int64, root string, ignore *fs.IgnoreMatcher) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}
	if ignore == nil {
		ignore = fs.NewIgnoreMatcher(nil)
	}
	t := &tree{id: treeID, root: absRoot, ignore: ignore, debouncer: NewDebouncer(w.debounce)}

	if err := w.addRecursive(t, absRoot); err != nil {
		return err
	}

	w.mu.Lock()
	w.trees = append(w.trees, t)
	w.mu.Unlock()

	w.logger.Info("watching tree", "tree_id", treeID, "root", absRoot)
	return nil
}

func (w *Watcher) addRecursive(t *tree, dir string) error {
	return filepath.WalkDir(dir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("walking %s: %w", dir, err)
			}
			w.logger.Warn("cannot watch directory", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != t.root && t.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// ignored reports whether path or one of its parents below the root is
// ignored. Events under an ignored directory still arrive when a nested
// tree watches it.
func (t *tree) ignored(path string) bool {
	rel, err := filepath.Rel(t.root, path)
	if err != nil {
		return false
	}
	for p := rel; p != "." && p != string(filepath.Separator); p = filepath.Dir(p) {
		if t.ignore.Match(p) {
			return true
		}
	}
	return false
}

// treesFor returns every tree whose root contains path. Roots may nest,
// so a change can belong to more than one tree.
func (w *Watcher) treesFor(path string) []*tree {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var matches []*tree
	for _, t := range w.trees {
		if path == t.root || strings.HasPrefix(path, t.root+string(filepath.Separator)) {
			matches = append(matches, t)
		}
	}
	return matches
}

// Run dispatches filesystem events until ctx is done, then closes the
// watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}

	isDir := false
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Lstat(ev.Name); err == nil && fi.IsDir() {
			isDir = true
		}
	}

	for _, t := range w.treesFor(ev.Name) {
		if t.ignored(ev.Name) {
			continue
		}
		if isDir {
			if err := w.addRecursive(t, ev.Name); err != nil {
				w.logger.Warn("cannot watch new directory", "path", ev.Name, "error", err)
			}
		}

		w.logger.Debug("change detected", "tree_id", t.id, "path", ev.Name, "op", ev.Op.String())
		id := t.id
		t.debouncer.Trigger(func() {
			if !w.startTrigger() {
				return
			}
			defer w.running.Done()
			if ctx.Err() != nil {
				return
			}
			w.trigger(ctx, id)
		})
	}
}

// startTrigger registers a running trigger unless the watcher is closed.
func (w *Watcher) startTrigger() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.running.Add(1)
	return true
}

// Close stops pending triggers and the fsnotify watcher, then waits for
// triggers already running to return. Run calls it on return; further
// calls are no-ops.
func (w *Watcher) Close() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		trees := w.trees
		w.mu.Unlock()

		for _, t := range trees {
			t.debouncer.Cancel()
		}
		w.fsw.Close()
		w.running.Wait()
	})
}
