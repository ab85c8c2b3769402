package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fstrack/internal/api"
	"fstrack/internal/config"
	"fstrack/internal/consumer"
	"fstrack/internal/encryption"
	"fstrack/internal/fs"
	"fstrack/internal/importer"
	"fstrack/internal/model"
	"fstrack/internal/outbox"
	"fstrack/internal/partition"
	"fstrack/internal/publisher"
	"fstrack/internal/retry"
	"fstrack/internal/storage"
	"fstrack/internal/track"
	"fstrack/internal/watch"
)

// shutdownTimeout bounds how long Close waits for in-flight deliveries.
const shutdownTimeout = 10 * time.Second

// App is the application layer between the CLI and the tracking packages.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw tree ids and paths, and releases everything on Close.
type App struct {
	cfg        *config.Config
	provider   storage.Provider
	partitions *partition.Manager
	importer   *importer.Importer
	outbox     *outbox.Outbox
	publisher  track.Publisher
	memory     *publisher.Memory
	logger     track.Logger
	run        *Run
	logFile    *os.File

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// New creates a fully wired App from the given config.
// command identifies the CLI command being run (e.g. "import", "serve").
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, command string) (*App, error) {
	run := NewRun(command, track.RealClock{})
	l, logFile, err := newLogger(cfg.LogDir, run.ID, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: l}

	a, err := newApp(ctx, cfg, run, logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

func newApp(ctx context.Context, cfg *config.Config, run *Run, logger track.Logger) (*App, error) {
	provider, err := NewProviderFromConfig(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	// An in-memory database starts empty every time.
	if cfg.Database.Type == "memory" {
		err = MigrateProvider(provider)
	} else {
		err = CheckMigrations(provider)
	}
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("database schema out of date (run 'fstrack migrate'): %w", err)
	}

	sealer, err := encryption.NewSealerFromConfig(cfg.Encryption)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("creating sealer: %w", err)
	}

	pub, err := publisher.NewPublisherFromConfig(ctx, cfg.Publisher, sealer, logger)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("creating publisher: %w", err)
	}

	policy, err := importer.ParseChangePolicy(cfg.Import.ChangePolicy)
	if err != nil {
		provider.Close()
		return nil, err
	}

	ob := outbox.New(provider, pub, logger,
		outbox.WithRetryPolicy(retry.Policy{
			Initial: cfg.Outbox.RetryInitial.Duration,
			Max:     cfg.Outbox.RetryMax.Duration,
		}),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
	)
	parts := partition.NewManager(provider, track.RealClock{})

	return &App{
		cfg:        cfg,
		provider:   provider,
		partitions: parts,
		importer:   importer.New(provider, ob, parts, logger, importer.WithChangePolicy(policy)),
		outbox:     ob,
		publisher:  pub,
		memory:     memoryOf(pub),
		logger:     logger,
		run:        run,
		locks:      make(map[int64]*sync.Mutex),
	}, nil
}

// memoryOf returns the in-process queue behind pub, if there is one.
func memoryOf(pub track.Publisher) *publisher.Memory {
	if b, ok := pub.(*publisher.Breaker); ok {
		pub = b.Unwrap()
	}
	m, _ := pub.(*publisher.Memory)
	return m
}

// Logger returns the logger tagged with this run's id.
func (a *App) Logger() track.Logger {
	return a.logger
}

// AddTree resolves rawRoot and registers it as tree id.
func (a *App) AddTree(ctx context.Context, id int64, rawRoot string) error {
	root, err := filepath.Abs(rawRoot)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}
	if err := a.partitions.Register(ctx, id, root); err != nil {
		return err
	}
	a.logger.Info("tree registered", "tree_id", id, "root", root)
	return nil
}

// ListTrees returns every registered tree.
func (a *App) ListTrees(ctx context.Context) ([]*model.Tree, error) {
	return a.partitions.List(ctx)
}

// DropTree forgets a tree and everything recorded for it.
func (a *App) DropTree(ctx context.Context, id int64) error {
	if _, err := a.partitions.Lookup(ctx, id); err != nil {
		return err
	}
	lock := a.treeLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := a.partitions.Drop(ctx, id); err != nil {
		return err
	}
	a.logger.Info("tree dropped", "tree_id", id)
	return nil
}

// ImportTree crawls the root of tree id and reconciles it. Imports of
// one tree are serialised within the process.
func (a *App) ImportTree(ctx context.Context, id int64) (*importer.Result, error) {
	lock := a.treeLock(id)
	lock.Lock()
	defer lock.Unlock()

	t, err := a.partitions.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.RootPath == "" {
		return nil, fmt.Errorf("tree %d has no root path", id)
	}
	ignore, err := fs.LoadIgnoreMatcher(t.RootPath, a.cfg.Import.Ignore)
	if err != nil {
		return nil, fmt.Errorf("loading ignore patterns: %w", err)
	}

	crawler := fs.NewCrawler(ignore, a.logger)
	return a.importer.Import(ctx, id, crawler.Walk(ctx, t.RootPath))
}

func (a *App) treeLock(id int64) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[id]
	if !ok {
		l = &sync.Mutex{}
		a.locks[id] = l
	}
	return l
}

// Recover publishes every event left in the outbox. Returns the number
// delivered.
func (a *App) Recover(ctx context.Context) (int, error) {
	return a.outbox.Recover(ctx)
}

// History returns the latest finished imports of tree id.
func (a *App) History(ctx context.Context, id int64, limit int) ([]*model.Import, error) {
	if _, err := a.partitions.Lookup(ctx, id); err != nil {
		return nil, err
	}
	return a.importer.History(ctx, id, limit)
}

// Pending returns the number of undelivered events.
func (a *App) Pending(ctx context.Context) (int64, error) {
	return a.outbox.Pending(ctx)
}

// Watch imports every tree once, then re-imports trees as their files
// change while recovering the outbox in the background. Blocks until ctx
// is done.
func (a *App) Watch(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startWatcher(ctx, g); err != nil {
		return err
	}
	g.Go(func() error {
		a.outbox.RunRecovery(ctx, a.cfg.Outbox.RecoverInterval.Duration)
		return nil
	})
	return g.Wait()
}

func (a *App) startWatcher(ctx context.Context, g *errgroup.Group) error {
	trees, err := a.partitions.List(ctx)
	if err != nil {
		return err
	}

	w, err := watch.New(a.cfg.Watch.Debounce.Duration, a.reimport, a.logger)
	if err != nil {
		return err
	}
	for _, t := range trees {
		if t.RootPath == "" {
			a.logger.Warn("not watching tree without root", "tree_id", t.ID)
			continue
		}
		ignore, err := fs.LoadIgnoreMatcher(t.RootPath, a.cfg.Import.Ignore)
		if err != nil {
			w.Close()
			return fmt.Errorf("loading ignore patterns of tree %d: %w", t.ID, err)
		}
		if err := w.Add(t.ID, t.RootPath, ignore); err != nil {
			w.Close()
			return fmt.Errorf("watching tree %d: %w", t.ID, err)
		}
	}

	g.Go(func() error { return w.Run(ctx) })
	for _, t := range trees {
		if t.RootPath != "" {
			g.Go(func() error {
				a.reimport(ctx, t.ID)
				return nil
			})
		}
	}
	return nil
}

// reimport runs one import and logs the outcome. Failures do not stop
// the watcher; the next change retries.
func (a *App) reimport(ctx context.Context, id int64) {
	res, err := a.ImportTree(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error("import failed", "tree_id", id, "error", err)
		}
		return
	}
	a.logger.Info("import finished", "tree_id", id, "import_id", res.ImportID,
		"entries", res.EntryCount, "new", res.NewCount, "changed", res.ChangedCount, "deleted", res.DeletedCount)
}

// Consume applies events from the configured consumer transport to the
// digest index until ctx is done.
func (a *App) Consume(ctx context.Context) error {
	src, err := consumer.NewSourceFromConfig(a.cfg, a.memory, a.logger)
	if err != nil {
		return err
	}
	d := consumer.NewDigester(a.provider, a.logger, a.cfg.Consumer.Extensions)
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}
	err = src.Run(ctx, d.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Serve runs the status API, the watcher and outbox recovery. With the
// memory transport the digest consumer runs in process as well.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startWatcher(ctx, g); err != nil {
		return err
	}

	srv := api.NewServer(api.Deps{
		Provider: a.provider,
		Trees:    a.partitions,
		History:  a.importer,
		Outbox:   a.outbox,
		Logger:   a.logger,
	})
	g.Go(func() error { return srv.ListenAndServe(ctx, a.cfg.API.Listen) })
	g.Go(func() error {
		a.outbox.RunRecovery(ctx, a.cfg.Outbox.RecoverInterval.Duration)
		return nil
	})
	if a.cfg.ConsumerTransport() == "memory" {
		g.Go(func() error { return a.Consume(ctx) })
	}
	return g.Wait()
}

// Close waits briefly for in-flight deliveries and releases all
// resources. Undelivered events stay in the outbox.
func (a *App) Close() error {
	var firstErr error

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.outbox.Shutdown(ctx); err != nil {
		a.logger.Warn("outbox deliveries abandoned", "error", err)
	}

	if c, ok := a.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			firstErr = fmt.Errorf("closing publisher: %w", err)
		}
	}

	if err := a.provider.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	a.logger.Debug("run finished", "command", a.run.Command, "elapsed", a.run.Elapsed(track.RealClock{}).String())

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
