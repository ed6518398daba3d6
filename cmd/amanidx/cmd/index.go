package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanidx/internal/index"
	"github.com/Aman-CERP/amanidx/internal/profiling"
	"github.com/Aman-CERP/amanidx/internal/registry"
	"github.com/Aman-CERP/amanidx/internal/ui"
)

// progressInterval is how often renderers receive a snapshot.
const progressInterval = 100 * time.Millisecond

func newIndexCmd() *cobra.Command {
	var (
		full    bool
		noTUI   bool
		profile profiling.Options
	)

	cmd := &cobra.Command{
		Use:   "index [paths...]",
		Short: "Index directories and archives",
		Long: `Index source directories and zip/jar archives with every configured
indexer, then wait until the work is done and persisted.

By default only changed files are re-indexed, and archives whose
modification time and indexer versions are unchanged are skipped.
Use --full to rebuild every index of the given roots.`,
		Example: `  # Index the current directory
  amanidx index

  # Index a project and a library archive from scratch
  amanidx index ./src ./lib/deps.jar --full`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if profile.Enabled() {
				session, err := profiling.Start(profile)
				if err != nil {
					return err
				}
				defer func() {
					if err := session.Stop(); err != nil {
						slog.Warn("failed to write profiles", slog.String("error", err.Error()))
					}
				}()
			}
			return runIndex(ctx, cmd, rootPaths(args), full, noTUI)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Rebuild every index instead of indexing changes")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().StringVar(&profile.CPU, "cpu-profile", "", "Write a CPU profile to `file`")
	cmd.Flags().StringVar(&profile.Heap, "heap-profile", "", "Write a heap profile to `file` after indexing")
	cmd.Flags().StringVar(&profile.Trace, "trace", "", "Write an execution trace to `file`")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, paths []string, full, noTUI bool) error {
	cfg, err := loadConfig(paths)
	if err != nil {
		return err
	}

	eng, err := openEngine(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	roots, err := eng.addRoots(paths)
	if err != nil {
		return err
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(noTUI)))
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	start := time.Now()
	err = indexRoots(ctx, eng, renderer, roots, full)
	renderer.Complete(ui.Summary{
		Roots:    len(roots),
		Progress: eng.progress.Snapshot(),
		Duration: time.Since(start),
	})
	return err
}

// indexRoots enqueues one unit per root and waits until the scheduler is
// silent, feeding progress to the renderer meanwhile.
func indexRoots(ctx context.Context, eng *engine, renderer ui.Renderer, roots []registry.Root, full bool) error {
	kind := index.FileList
	if full {
		kind = index.Scan
	}

	followCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ui.Follow(followCtx, renderer, eng.progress, progressInterval)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	for _, root := range roots {
		slog.Info("root queued",
			slog.String("root", root.Key),
			slog.String("kind", root.Kind.String()),
			slog.String("work", kind.String()))
		eng.sched.Enqueue(index.WorkItem{Kind: kind, Root: root.Key})
	}
	return eng.sched.WaitSilent(ctx)
}
