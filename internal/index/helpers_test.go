package index

import (
	"archive/zip"
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanidx/internal/logging"
	"github.com/Aman-CERP/amanidx/internal/registry"
	"github.com/Aman-CERP/amanidx/internal/scanner"
	"github.com/Aman-CERP/amanidx/internal/store"
	"github.com/Aman-CERP/amanidx/internal/timestamps"
	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

// recordingFactory indexes one document per file and records every
// callback it receives.
type recordingFactory struct {
	name    string
	version int
	mimes   []string

	panicIn string
	failIn  string
	decline bool
	onIndex func(indexer.Context)

	mu       sync.Mutex
	calls    []string
	roots    []string
	allFiles []bool
	indexed  [][]string
	deleted  [][]string
	dirty    [][]string
	removed  []string
}

func newFactory(name string, mimes ...string) *recordingFactory {
	return &recordingFactory{name: name, version: 1, mimes: mimes}
}

func (f *recordingFactory) Name() string        { return f.name }
func (f *recordingFactory) Version() int        { return f.version }
func (f *recordingFactory) MimeTypes() []string { return f.mimes }

func (f *recordingFactory) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *recordingFactory) trip(callback string) error {
	if f.panicIn == callback {
		panic(callback + " exploded")
	}
	if f.failIn == callback {
		return errors.New(callback + " failed")
	}
	return nil
}

func (f *recordingFactory) ScanStarted(ctx indexer.Context) (bool, error) {
	f.record("scanStarted")
	f.mu.Lock()
	f.roots = append(f.roots, ctx.Root())
	f.allFiles = append(f.allFiles, ctx.IsAllFilesIndexing())
	f.mu.Unlock()
	if err := f.trip("ScanStarted"); err != nil {
		return false, err
	}
	return !f.decline, nil
}

func (f *recordingFactory) FilesDeleted(deleted []indexer.Indexable, _ indexer.Context) error {
	f.record("filesDeleted")
	f.mu.Lock()
	f.deleted = append(f.deleted, paths(deleted))
	f.mu.Unlock()
	return f.trip("FilesDeleted")
}

func (f *recordingFactory) FilesDirty(dirty []indexer.Indexable, _ indexer.Context) error {
	f.record("filesDirty")
	f.mu.Lock()
	f.dirty = append(f.dirty, paths(dirty))
	f.mu.Unlock()
	return f.trip("FilesDirty")
}

func (f *recordingFactory) ScanFinished(indexer.Context) error {
	f.record("scanFinished")
	return f.trip("ScanFinished")
}

func (f *recordingFactory) RootsRemoved(roots []string) {
	f.record("rootsRemoved")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, roots...)
}

func (f *recordingFactory) CreateIndexer() indexer.Indexer {
	return indexer.IndexerFunc(func(files iter.Seq[indexer.Indexable], ctx indexer.Context) error {
		f.record("index")
		if f.onIndex != nil {
			f.onIndex(ctx)
		}
		var keys []string
		for it := range files {
			keys = append(keys, it.RelativePath)
			body, err := it.ReadAll()
			if err != nil {
				return err
			}
			doc := indexer.NewDocument(it.PrimaryKey()).
				Add("path", it.RelativePath, true, true).
				Add("content", string(body), false, true)
			if err := ctx.AddDocument(doc); err != nil {
				return err
			}
		}
		f.mu.Lock()
		f.indexed = append(f.indexed, keys)
		f.mu.Unlock()
		return f.trip("Index")
	})
}

func (f *recordingFactory) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *recordingFactory) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *recordingFactory) Roots() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.roots)
}

func (f *recordingFactory) AllFiles() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.allFiles)
}

func (f *recordingFactory) Indexed() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.indexed)
}

func (f *recordingFactory) Deleted() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deleted)
}

func (f *recordingFactory) Dirty() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.dirty)
}

func (f *recordingFactory) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.removed)
}

func (f *recordingFactory) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls, f.roots, f.allFiles = nil, nil, nil
	f.indexed, f.deleted, f.dirty, f.removed = nil, nil, nil, nil
}

func paths(items []indexer.Indexable) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.RelativePath
	}
	return out
}

// eventLog collects scheduler events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

func (l *eventLog) count(kind EventKind, indexer string) int {
	n := 0
	for _, e := range l.all() {
		if e.Kind == kind && e.Indexer == indexer {
			n++
		}
	}
	return n
}

func (l *eventLog) outcomes(indexer string) []Outcome {
	var out []Outcome
	for _, e := range l.all() {
		if e.Kind == EventPassFinished && e.Indexer == indexer {
			out = append(out, e.Outcome)
		}
	}
	return out
}

func (l *eventLog) units() []Event {
	var out []Event
	for _, e := range l.all() {
		if e.Kind == EventUnitFinished {
			out = append(out, e)
		}
	}
	return out
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t      *testing.T
	sc     *scanner.Scanner
	cache  *registry.CacheFolder
	reg    *registry.Registry
	pool   *store.Pool
	events *eventLog
}

func newFixture(t *testing.T, factories ...indexer.Factory) *fixture {
	t.Helper()
	sc, err := scanner.New(scanner.Options{}, logging.Discard())
	require.NoError(t, err)
	cache, err := registry.OpenCacheFolder(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	reg, err := registry.New(sc, cache, factories...)
	require.NoError(t, err)
	pool, err := store.NewPool(4, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.CloseAll() })

	return &fixture{t: t, sc: sc, cache: cache, reg: reg, pool: pool, events: &eventLog{}}
}

// registryWith returns a second registry over the same cache folder.
func (fx *fixture) registryWith(factories ...indexer.Factory) *registry.Registry {
	reg, err := registry.New(fx.sc, fx.cache, factories...)
	require.NoError(fx.t, err)
	return reg
}

func (fx *fixture) addRoot(files map[string]string) registry.Root {
	fx.t.Helper()
	dir := fx.t.TempDir()
	writeFiles(fx.t, dir, files)
	root, err := fx.reg.AddRoot(dir)
	require.NoError(fx.t, err)
	return root
}

func (fx *fixture) addArchive(entries map[string]string) registry.Root {
	fx.t.Helper()
	path := filepath.Join(fx.t.TempDir(), "lib.zip")
	out, err := os.Create(path)
	require.NoError(fx.t, err)
	zw := zip.NewWriter(out)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(fx.t, err)
		_, err = w.Write([]byte(body))
		require.NoError(fx.t, err)
	}
	require.NoError(fx.t, zw.Close())
	require.NoError(fx.t, out.Close())

	root, err := fx.reg.AddRoot(path)
	require.NoError(fx.t, err)
	return root
}

func (fx *fixture) scheduler(opts ...Option) *Scheduler {
	return fx.schedulerFor(fx.reg, opts...)
}

func (fx *fixture) schedulerFor(reg RegistryHandle, opts ...Option) *Scheduler {
	base := []Option{
		WithPool(fx.pool),
		WithLogger(logging.Discard()),
		WithObserver(fx.events.record),
	}
	s := New(reg, append(base, opts...)...)
	fx.t.Cleanup(func() { _ = s.Close() })
	return s
}

// run enqueues items, starts s if needed and waits until they are done.
func (fx *fixture) run(s *Scheduler, items ...WorkItem) {
	fx.t.Helper()
	for _, it := range items {
		s.Enqueue(it)
	}
	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(fx.t, s.WaitSilent(ctx))
}

func (fx *fixture) docCount(dir string) uint64 {
	fx.t.Helper()
	n, err := fx.pool.Handle(dir).DocCount()
	require.NoError(fx.t, err)
	return n
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
}

func openTimeStamps(t *testing.T) *timestamps.TimeStamps {
	t.Helper()
	backend, err := timestamps.NewBackend(timestamps.BackendSQLite, t.TempDir(), logging.Discard())
	require.NoError(t, err)
	ts, err := timestamps.Open(backend,
		timestamps.WithLogger(logging.Discard()),
		timestamps.WithSaveDelay(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ts.Close() })
	return ts
}

func fileList(root registry.Root, files ...string) WorkItem {
	return WorkItem{Kind: FileList, Root: root.Key, Files: files}
}
