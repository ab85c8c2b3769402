package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"fstrack/internal/fs"
	"fstrack/internal/testutil"
	"fstrack/internal/track"
)

type triggers struct {
	mu  sync.Mutex
	ids []int64
	ch  chan int64
}

func newTriggers() *triggers {
	return &triggers{ch: make(chan int64, 64)}
}

func (tr *triggers) fn(_ context.Context, treeID int64) {
	tr.mu.Lock()
	tr.ids = append(tr.ids, treeID)
	tr.mu.Unlock()
	tr.ch <- treeID
}

func (tr *triggers) wait(t *testing.T) int64 {
	t.Helper()
	select {
	case id := <-tr.ch:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("no trigger")
		return 0
	}
}

func (tr *triggers) count() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.ids)
}

func startWatcher(t *testing.T, debounce time.Duration) (*Watcher, *triggers) {
	t.Helper()

	tr := newTriggers()
	w, err := New(debounce, tr.fn, track.NewNopLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, tr
}

func TestWatcher_TriggersPerTree(t *testing.T) {
	w, tr := startWatcher(t, 20*time.Millisecond)

	rootA, rootB := t.TempDir(), t.TempDir()
	if err := w.Add(1, rootA, nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := w.Add(2, rootB, nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	testutil.WriteTree(t, rootB, map[string]string{"x.txt": "x"})
	if got := tr.wait(t); got != 2 {
		t.Errorf("trigger = %d, want 2", got)
	}

	testutil.WriteTree(t, rootA, map[string]string{"y.txt": "y"})
	if got := tr.wait(t); got != 1 {
		t.Errorf("trigger = %d, want 1", got)
	}
}

func TestWatcher_NestedRootsTriggerEveryTree(t *testing.T) {
	w, tr := startWatcher(t, 20*time.Millisecond)

	outer := t.TempDir()
	inner := filepath.Join(outer, "photos")
	if err := os.Mkdir(inner, 0755); err != nil {
		t.Fatal(err)
	}
	if err := w.Add(1, outer, nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := w.Add(2, inner, nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	testutil.WriteTree(t, inner, map[string]string{"x.jpg": "x"})
	got := map[int64]bool{tr.wait(t): true, tr.wait(t): true}
	if !got[1] || !got[2] {
		t.Errorf("triggered trees = %v, want 1 and 2", got)
	}

	testutil.WriteTree(t, outer, map[string]string{"top.txt": "t"})
	if id := tr.wait(t); id != 1 {
		t.Errorf("trigger = %d, want 1", id)
	}
	time.Sleep(100 * time.Millisecond)
	if n := tr.count(); n != 3 {
		t.Errorf("triggers = %d, want 3", n)
	}
}

func TestWatcher_NestedRootIgnoredByOuterTree(t *testing.T) {
	w, tr := startWatcher(t, 20*time.Millisecond)

	outer := t.TempDir()
	inner := filepath.Join(outer, "cache")
	if err := os.Mkdir(inner, 0755); err != nil {
		t.Fatal(err)
	}
	if err := w.Add(1, outer, fs.NewIgnoreMatcher([]string{"cache"})); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := w.Add(2, inner, nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	testutil.WriteTree(t, inner, map[string]string{"blob": "b"})
	if id := tr.wait(t); id != 2 {
		t.Errorf("trigger = %d, want 2", id)
	}
	time.Sleep(100 * time.Millisecond)
	if n := tr.count(); n != 1 {
		t.Errorf("triggers = %d, want 1", n)
	}
}

func TestWatcher_CloseWaitsForRunningTriggers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var enterOnce sync.Once
	var finished atomic.Bool
	w, err := New(10*time.Millisecond, func(ctx context.Context, treeID int64) {
		enterOnce.Do(func() { close(entered) })
		<-release
		finished.Store(true)
	}, track.NewNopLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	root := t.TempDir()
	if err := w.Add(1, root, nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	testutil.WriteTree(t, root, map[string]string{"a.txt": "a"})
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("no trigger")
	}

	closed := make(chan struct{})
	go func() {
		w.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close() returned while a trigger was running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close() did not return after the trigger finished")
	}
	if !finished.Load() {
		t.Error("Close() returned before the trigger finished")
	}

	// A second Close, as Run does on return, is a no-op.
	w.Close()
}

func TestWatcher_NoTriggersAfterClose(t *testing.T) {
	tr := newTriggers()
	w, err := New(50*time.Millisecond, tr.fn, track.NewNopLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	root := t.TempDir()
	if err := w.Add(1, root, nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	w.handle(context.Background(), fsnotify.Event{Name: filepath.Join(root, "a.txt"), Op: fsnotify.Write})
	w.Close()

	time.Sleep(150 * time.Millisecond)
	if n := tr.count(); n != 0 {
		t.Errorf("triggers after Close = %d, want 0", n)
	}
}

func TestWatcher_CoalescesBursts(t *testing.T) {
	w, tr := startWatcher(t, 150*time.Millisecond)

	root := t.TempDir()
	if err := w.Add(7, root, nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		testutil.WriteTree(t, root, map[string]string{"burst.txt": string(rune('a' + i))})
	}
	tr.wait(t)
	time.Sleep(300 * time.Millisecond)

	if n := tr.count(); n != 1 {
		t.Errorf("triggers = %d, want 1", n)
	}
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	w, tr := startWatcher(t, 20*time.Millisecond)

	root := t.TempDir()
	if err := w.Add(3, root, nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	tr.wait(t)

	testutil.WriteTree(t, sub, map[string]string{"deep.txt": "d"})
	if got := tr.wait(t); got != 3 {
		t.Errorf("trigger = %d, want 3", got)
	}
}

func TestWatcher_IgnoredPathsDoNotTrigger(t *testing.T) {
	w, tr := startWatcher(t, 20*time.Millisecond)

	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "cache"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := w.Add(4, root, fs.NewIgnoreMatcher([]string{"cache", "*.tmp"})); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	testutil.WriteTree(t, root, map[string]string{"cache/a": "a", "b.tmp": "b"})
	time.Sleep(150 * time.Millisecond)
	if n := tr.count(); n != 0 {
		t.Fatalf("triggers = %d, want 0", n)
	}

	testutil.WriteTree(t, root, map[string]string{"kept.txt": "k"})
	if got := tr.wait(t); got != 4 {
		t.Errorf("trigger = %d, want 4", got)
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	fired := make(chan struct{}, 1)
	d.Trigger(func() { fired <- struct{}{} })
	d.Cancel()

	select {
	case <-fired:
		t.Error("cancelled call fired")
	case <-time.After(60 * time.Millisecond):
	}
}
