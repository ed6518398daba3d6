package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanidx/internal/config"
	"github.com/Aman-CERP/amanidx/internal/indexers"
	"github.com/Aman-CERP/amanidx/internal/registry"
	"github.com/Aman-CERP/amanidx/internal/scanner"
	"github.com/Aman-CERP/amanidx/internal/store"
	"github.com/Aman-CERP/amanidx/internal/timestamps"
	"github.com/Aman-CERP/amanidx/internal/ui"
	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

// statusConcurrency bounds how many roots are inspected at once.
const statusConcurrency = 4

// Index states reported by status.
const (
	stateReady   = "ready"
	stateStale   = "stale"
	stateMissing = "missing"
	stateError   = "error"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [paths...]",
		Short: "Show the indices of known roots",
		Long: `Show every index of the given roots, or of every root in the cache
folder when no path is given:
  - when the root was last indexed completely
  - document count and size per indexer
  - whether the last pass of each indexer was clean

Status opens the indices read-only and can run next to 'amanidx watch'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, args, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, paths []string, jsonOutput bool) error {
	cfg, err := loadConfig(paths)
	if err != nil {
		return err
	}

	roots, err := collectStatus(ctx, cfg, paths)
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if jsonOutput {
		return renderer.RenderJSON(roots)
	}
	return renderer.Render(roots)
}

// collectStatus inspects the roots at paths, or every known root, in
// parallel. Problems with a single index are reported in its status.
func collectStatus(ctx context.Context, cfg *config.Config, paths []string) ([]ui.RootStatus, error) {
	if _, err := os.Stat(cfg.Index.CacheDir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	cache := registry.ReadCacheFolder(cfg.Index.CacheDir)

	var keys []string
	if len(paths) == 0 {
		known, err := cache.KnownRoots()
		if err != nil {
			return nil, err
		}
		keys = known
	}
	for _, p := range paths {
		key, err := registry.RootKey(p)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	factories, err := indexers.Builtin(cfg.Indexers, slog.Default())
	if err != nil {
		return nil, err
	}
	states, stateErr := loadStates(ctx, cfg, cache)
	if stateErr != nil {
		slog.Warn("archive timestamps unavailable", slog.String("error", stateErr.Error()))
	}

	out := make([]ui.RootStatus, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = rootStatus(cache, key, factories, states)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// loadStates reads the persisted archive states without holding them open.
func loadStates(ctx context.Context, cfg *config.Config, cache *registry.CacheFolder) (map[string]timestamps.State, error) {
	backend, err := timestamps.NewBackend(cfg.TimeStamps.Backend, cache.Dir(), slog.Default())
	if err != nil {
		return nil, err
	}
	defer func() { _ = backend.Close() }()
	return backend.Load(ctx)
}

func rootStatus(cache *registry.CacheFolder, key string, factories []indexer.Factory, states map[string]timestamps.State) ui.RootStatus {
	rs := ui.RootStatus{Root: key, Kind: registry.RootSource.String()}
	if p, err := indexer.PathFromURL(key); err == nil && scanner.IsArchive(p) {
		rs.Kind = registry.RootBinary.String()
	}

	st, known := states[key]
	if known && st.LastModified > 0 {
		rs.LastModified = time.UnixMilli(st.LastModified)
	}

	for _, f := range factories {
		ix := ui.IndexStatus{Indexer: f.Name(), Version: f.Version(), State: stateMissing}
		dir := cache.IndexDir(key, f)
		if _, err := os.Stat(dir); err == nil {
			ix.State = stateStale
			if known && st.Has(timestamps.IndexerID{Name: f.Name(), Version: f.Version()}) {
				ix.State = stateReady
			}
			ix.SizeBytes = dirSize(dir)
			if n, err := countDocuments(dir); err != nil {
				ix.State = stateError
				ix.Error = err.Error()
			} else {
				ix.Documents = n
			}
		}
		rs.Indexes = append(rs.Indexes, ix)
	}
	return rs
}

func countDocuments(dir string) (uint64, error) {
	idx, err := store.OpenReadOnly(dir)
	if err != nil {
		return 0, err
	}
	defer func() { _ = idx.Close() }()
	return idx.DocCount()
}

// dirSize returns the total size of all files below path.
func dirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if info, err := d.Info(); err == nil && !d.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}
