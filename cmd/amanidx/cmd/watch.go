package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/internal/metrics"
	"github.com/Aman-CERP/amanidx/internal/output"
	"github.com/Aman-CERP/amanidx/internal/ui"
	"github.com/Aman-CERP/amanidx/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var (
		metricsAddr  string
		forcePolling bool
	)

	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Index roots and keep them up to date",
		Long: `Index the given roots incrementally, then watch them and re-index
files as they change until interrupted.

Changes are debounced (watch.debounce) and filtered by .gitignore and
paths.exclude. Archives are re-indexed when they are rewritten.`,
		Example: `  # Watch the current directory and expose Prometheus metrics
  amanidx watch --metrics-addr localhost:9464`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, rootPaths(args), metricsAddr, forcePolling)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. localhost:9464)")
	cmd.Flags().BoolVar(&forcePolling, "poll", false, "Poll for changes instead of using file system notifications")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, paths []string, metricsAddr string, forcePolling bool) error {
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

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(true)))
	start := time.Now()
	if err := indexRoots(ctx, eng, renderer, roots, false); err != nil {
		return err
	}
	renderer.Complete(ui.Summary{
		Roots:    len(roots),
		Progress: eng.progress.Snapshot(),
		Duration: time.Since(start),
	})

	w, err := watcher.New(eng.reg, eng.sched, watcher.Options{
		DebounceWindow: cfg.WatchDebounce(),
		IgnorePatterns: cfg.Paths.Exclude,
		ForcePolling:   forcePolling,
	}, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	for _, root := range roots {
		if err := w.Add(root); err != nil {
			return err
		}
	}

	out := output.New(cmd.OutOrStdout(), ui.DetectNoColor())
	out.Successf("Watching %d roots (%s)", len(roots), w.Mode())
	if metricsAddr != "" {
		out.Field("Metrics", "http://"+metricsAddr+"/metrics")
	}
	out.Status("", "Press Ctrl+C to stop")

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancelRun()
		return w.Run(gctx)
	})
	g.Go(func() error {
		for err := range w.Errors() {
			amerrors.Log(slog.Default(), "watcher error", err)
		}
		return nil
	})
	g.Go(func() error {
		ui.Follow(gctx, renderer, eng.progress, progressInterval)
		return nil
	})
	if metricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, metricsAddr, eng)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		// Interrupted. Pending units are dropped; the next run picks the
		// changes up again.
		slog.Info("watch stopped", slog.Int("pending", eng.sched.Pending()))
		return nil
	}
	return err
}

// serveMetrics serves /metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, eng *engine) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(eng.gatherer))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("metrics endpoint listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	}
}
