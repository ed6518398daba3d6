package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/Aman-CERP/amanidx/internal/index"
	"github.com/Aman-CERP/amanidx/internal/logging"
	"github.com/Aman-CERP/amanidx/internal/registry"
)

// Watcher watches registered roots and enqueues the resulting work. It
// uses fsnotify, with polling as a fallback.
type Watcher struct {
	resolver Resolver
	sink     Sink
	opts     Options
	logger   *slog.Logger

	fsWatcher   *fsnotify.Watcher
	useFsnotify bool
	debouncer   *Debouncer
	extra       *ignore.GitIgnore

	mu      sync.RWMutex
	roots   map[string]*watchedRoot
	errors  chan error
	stopCh  chan struct{}
	stopped bool
}

type watchedRoot struct {
	root      registry.Root
	gitignore *ignore.GitIgnore
	poller    *poller
}

// New creates a watcher that resolves paths with resolver and sends work
// to sink. It falls back to polling when fsnotify cannot be initialized.
func New(resolver Resolver, sink Sink, opts Options, logger *slog.Logger) (*Watcher, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults()
	logger = logging.OrDefault(logger)

	w := &Watcher{
		resolver:  resolver,
		sink:      sink,
		opts:      opts,
		logger:    logger,
		debouncer: NewDebouncer(opts.DebounceWindow, logger),
		extra:     ignore.CompileIgnoreLines(opts.IgnorePatterns...),
		roots:     make(map[string]*watchedRoot),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			w.fsWatcher = fsw
			w.useFsnotify = true
		} else {
			logger.Warn("fsnotify unavailable, falling back to polling",
				slog.String("error", err.Error()))
		}
	}
	return w, nil
}

// Add starts watching root. Archives are watched through their parent
// directory so a rewrite that replaces the file is still seen.
func (w *Watcher) Add(root registry.Root) error {
	w.mu.RLock()
	_, known := w.roots[root.Key]
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return fmt.Errorf("watcher stopped")
	}
	if known {
		return nil
	}

	wr := &watchedRoot{root: root}
	if root.Kind == registry.RootSource {
		wr.gitignore = loadGitignore(root.Path, w.logger)
	}

	switch {
	case !w.useFsnotify:
		wr.poller = newPoller(root, func(rel string, isDir bool) bool {
			return w.ignored(wr, rel, isDir)
		})
	case root.Kind == registry.RootBinary:
		if err := w.fsWatcher.Add(filepath.Dir(root.Path)); err != nil {
			return fmt.Errorf("watch %s: %w", root.Path, err)
		}
	default:
		if err := w.addRecursive(wr, root.Path); err != nil {
			return fmt.Errorf("add directories to watcher: %w", err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.roots[root.Key]; !ok {
		w.roots[root.Key] = wr
	}
	return nil
}

// Remove stops reporting changes for the root with key. Directories
// already passed to fsnotify keep delivering events, which no longer
// resolve to a watched root and are dropped.
func (w *Watcher) Remove(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.roots, key)
}

// Run processes file events until ctx is cancelled or Stop is called.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		fsEvents <-chan fsnotify.Event
		fsErrors <-chan error
		tick     <-chan time.Time
	)
	if w.useFsnotify {
		fsEvents, fsErrors = w.fsWatcher.Events, w.fsWatcher.Errors
	} else {
		ticker := time.NewTicker(w.opts.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			w.handleFsnotifyEvent(event)
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			w.emitError(err)
		case <-tick:
			w.poll()
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return nil
			}
			w.dispatch(ctx, batch)
		}
	}
}

// handleFsnotifyEvent converts and filters one fsnotify event.
func (w *Watcher) handleFsnotifyEvent(event fsnotify.Event) {
	root, rel, ok := w.resolver.Resolve(event.Name)
	if !ok {
		return
	}
	w.mu.RLock()
	wr := w.roots[root.Key]
	w.mu.RUnlock()
	if wr == nil {
		return
	}
	if rel == "." {
		rel = ""
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod only.
		return
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	} else if op == OpDelete || op == OpRename {
		isDir = slices.Contains(w.fsWatcher.WatchList(), event.Name)
	}
	if root.Kind == registry.RootBinary || rel == "" {
		isDir = false
	}
	if op == OpCreate && isDir && root.Kind == registry.RootSource {
		if err := w.addRecursive(wr, event.Name); err != nil {
			w.emitError(err)
		}
	}

	w.observe(wr, FileEvent{Root: root.Key, Path: rel, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

// observe filters an event and hands it to the debouncer.
func (w *Watcher) observe(wr *watchedRoot, event FileEvent) {
	if event.Path != "" && w.ignored(wr, event.Path, event.IsDir) {
		return
	}
	if path.Base(event.Path) == ".gitignore" {
		event.Operation = OpGitignoreChange
		event.IsDir = false
	}
	w.debouncer.Add(event)
}

func (w *Watcher) poll() {
	w.mu.RLock()
	roots := make([]*watchedRoot, 0, len(w.roots))
	for _, wr := range w.roots {
		roots = append(roots, wr)
	}
	w.mu.RUnlock()

	for _, wr := range roots {
		if wr.poller != nil {
			wr.poller.detect(func(ev FileEvent) { w.observe(wr, ev) })
		}
	}
}

// dispatch reloads changed ignore rules and enqueues the batch's work. A
// single changed file is also handed to an Updater sink directly.
func (w *Watcher) dispatch(ctx context.Context, batch []FileEvent) {
	reloaded := false
	for _, ev := range batch {
		if ev.Operation != OpGitignoreChange {
			continue
		}
		if !reloaded {
			w.resolver.InvalidateGitignore()
			reloaded = true
		}
		w.mu.Lock()
		if wr := w.roots[ev.Root]; wr != nil && ev.Path == ".gitignore" {
			wr.gitignore = loadGitignore(wr.root.Path, w.logger)
		}
		w.mu.Unlock()
	}

	updater, direct := w.sink.(Updater)
	direct = direct && !w.opts.QueueOnly
	for _, item := range WorkItems(batch) {
		if direct && item.Kind == index.FileList && len(item.Files) == 1 {
			if err := updater.Update(ctx, item.Root, item.Files); err != nil {
				w.emitError(fmt.Errorf("update %s: %w", item.Files[0], err))
			}
		}
		w.logger.Debug("file changes queued",
			slog.String("root", item.Root),
			slog.String("kind", item.Kind.String()),
			slog.Int("files", len(item.Files)))
		w.sink.Enqueue(item)
	}
}

// addRecursive adds dir and every directory below it to fsnotify.
func (w *Watcher) addRecursive(wr *watchedRoot, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip directories we can't access
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(wr.root.Path, p)
		if err != nil {
			return nil
		}
		if rel != "." && w.ignored(wr, filepath.ToSlash(rel), true) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(p)
	})
}

// ignored reports whether rel is excluded by .git, the root .gitignore or
// the configured patterns.
func (w *Watcher) ignored(wr *watchedRoot, rel string, isDir bool) bool {
	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return true
	}
	if isDir {
		rel += "/"
	}
	if w.extra.MatchesPath(rel) {
		return true
	}
	w.mu.RLock()
	gi := wr.gitignore
	w.mu.RUnlock()
	return gi != nil && gi.MatchesPath(rel)
}

func loadGitignore(dir string, logger *slog.Logger) *ignore.GitIgnore {
	p := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(p); err != nil {
		return nil
	}
	gi, err := ignore.CompileIgnoreFile(p)
	if err != nil {
		logger.Warn("failed to load root .gitignore",
			slog.String("path", p),
			slog.String("error", err.Error()))
		return nil
	}
	return gi
}

// emitError sends an error to the error channel.
func (w *Watcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
		w.logger.Warn("watcher error dropped", slog.String("error", err.Error()))
	}
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}

	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()

	var err error
	if w.fsWatcher != nil {
		err = w.fsWatcher.Close()
	}
	close(w.errors)
	return err
}

// Errors returns the channel of non-fatal errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Mode returns "fsnotify" or "polling".
func (w *Watcher) Mode() string {
	if w.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}
