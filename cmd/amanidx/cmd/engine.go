package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aman-CERP/amanidx/internal/config"
	"github.com/Aman-CERP/amanidx/internal/docstore"
	"github.com/Aman-CERP/amanidx/internal/index"
	"github.com/Aman-CERP/amanidx/internal/indexers"
	"github.com/Aman-CERP/amanidx/internal/metrics"
	"github.com/Aman-CERP/amanidx/internal/registry"
	"github.com/Aman-CERP/amanidx/internal/scanner"
	"github.com/Aman-CERP/amanidx/internal/store"
	"github.com/Aman-CERP/amanidx/internal/timestamps"
)

// engine is the wired indexing stack shared by index and watch.
type engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	cache    *registry.CacheFolder
	reg      *registry.Registry
	ts       *timestamps.TimeStamps
	pool     *store.Pool
	progress *index.Progress
	sched    *index.Scheduler
	gatherer prometheus.Gatherer
}

// openEngine locks the cache folder, loads the archive timestamps and
// starts a scheduler. Close releases everything in reverse order.
func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *engine, err error) {
	e := &engine{cfg: cfg, logger: logger, progress: index.NewProgress()}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	factories, err := indexers.Builtin(cfg.Indexers, logger)
	if err != nil {
		return nil, err
	}
	sc, err := scanner.New(scanner.Options{
		Exclude:          cfg.Paths.Exclude,
		RespectGitignore: cfg.GitignoreEnabled(),
		MaxFileSize:      int64(cfg.Paths.MaxFileSizeMB) << 20,
	}, logger)
	if err != nil {
		return nil, err
	}

	if e.cache, err = registry.OpenCacheFolder(cfg.Index.CacheDir); err != nil {
		return nil, err
	}
	if e.reg, err = registry.New(sc, e.cache, factories...); err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	e.gatherer = promReg
	m, err := metrics.New(promReg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	backend, err := timestamps.NewBackend(cfg.TimeStamps.Backend, e.cache.Dir(), logger)
	if err != nil {
		return nil, err
	}
	e.ts, err = timestamps.Open(backend,
		timestamps.WithLogger(logger),
		timestamps.WithSaveDelay(cfg.SaveDelay()),
		timestamps.WithObserver(m.Persisted))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	if e.pool, err = store.NewPool(cfg.Index.OpenIndexes, logger); err != nil {
		return nil, err
	}

	opts := []index.Option{
		index.WithTimeStamps(e.ts),
		index.WithPool(e.pool),
		index.WithMetrics(m),
		index.WithLogger(logger),
		index.WithProgress(e.progress),
		index.WithStoreCapacity(cfg.StoreCapacityBytes()),
		index.WithStoreOptions(docstore.WithMaxBuffer(cfg.MaxBufferBytes())),
		index.WithBreaker(cfg.Scheduler.BreakerFailures, cfg.BreakerReset()),
	}
	if cfg.Scheduler.MemoryLimitMB > 0 {
		opts = append(opts, index.WithMemoryLimit(uint64(cfg.Scheduler.MemoryLimitMB)<<20, 0))
	}
	e.sched = index.New(e.reg, opts...)
	e.sched.Start(ctx)

	logger.Debug("engine started",
		slog.String("cache_dir", e.cache.Dir()),
		slog.String("timestamps", cfg.TimeStamps.Backend),
		slog.Int("indexers", len(factories)))
	return e, nil
}

// addRoots registers every path and returns the roots in argument order.
func (e *engine) addRoots(paths []string) ([]registry.Root, error) {
	roots := make([]registry.Root, 0, len(paths))
	for _, p := range paths {
		root, err := e.reg.AddRoot(p)
		if err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}
	return roots, nil
}

// Close stops the scheduler, then persists timestamps and closes indices.
func (e *engine) Close() error {
	var errs []error
	if e.sched != nil {
		errs = append(errs, e.sched.Close())
	}
	if e.ts != nil {
		errs = append(errs, e.ts.Close())
	}
	if e.pool != nil {
		errs = append(errs, e.pool.CloseAll())
	}
	if e.cache != nil {
		errs = append(errs, e.cache.Close())
	}
	return errors.Join(errs...)
}

// rootPaths defaults to the working directory.
func rootPaths(args []string) []string {
	if len(args) == 0 {
		return []string{"."}
	}
	return args
}

// loadConfig loads the configuration of the project holding the first
// root. An archive root uses its parent directory.
func loadConfig(paths []string) (*config.Config, error) {
	dir := "."
	if len(paths) > 0 {
		dir = paths[0]
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			dir = filepath.Dir(dir)
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	return config.Load(abs)
}
