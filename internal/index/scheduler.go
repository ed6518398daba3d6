// Package index runs indexing work in the background.
//
// The Scheduler owns a queue of work items and one worker goroutine. Items
// for the same root coalesce while they wait; the worker executes one unit
// at a time and dispatches it to every indexer factory whose mime types
// occur in the root. Documents flow through a per (root, factory)
// DocumentIndexCache into a persistent bleve index.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/amanidx/internal/cluster"
	"github.com/Aman-CERP/amanidx/internal/docstore"
	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/internal/logging"
	"github.com/Aman-CERP/amanidx/internal/metrics"
	"github.com/Aman-CERP/amanidx/internal/registry"
	"github.com/Aman-CERP/amanidx/internal/store"
	"github.com/Aman-CERP/amanidx/internal/timestamps"
	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

const (
	// DefaultStoreCapacity is the buffered document size that triggers a
	// commit.
	DefaultStoreCapacity = 4 << 20

	// DefaultMaxFailures is the number of consecutive failed passes after
	// which a factory is skipped.
	DefaultMaxFailures = 5

	// DefaultResetTimeout is how long a failing factory is skipped.
	DefaultResetTimeout = time.Minute

	// DefaultMemoryInterval is the heap sampling interval of the memory
	// watchdog.
	DefaultMemoryInterval = time.Second
)

const (
	resultOK      = "ok"
	resultSkipped = "skipped"
	resultAborted = "aborted"
)

// ErrClosed is returned by WaitSilent when the scheduler closes before
// the barrier runs.
var ErrClosed = errors.New("scheduler closed")

// RegistryHandle is the scheduler's view of roots and indexer factories.
type RegistryHandle interface {
	Root(key string) (registry.Root, bool)
	Factories() []indexer.Factory
	FactoriesFor(mimes []string) []indexer.Factory
	Enumerate(ctx context.Context, root registry.Root) ([]indexer.Indexable, error)
	Lookup(root registry.Root, rels []string) ([]indexer.Indexable, []string)
	Stub(root registry.Root, rel string) indexer.Indexable
	IndexDir(root registry.Root, f indexer.Factory) string
	Forget(key string) error
}

// Scheduler executes work items on a single worker goroutine.
type Scheduler struct {
	reg          RegistryHandle
	ts           *timestamps.TimeStamps
	pool         *store.Pool
	metrics      *metrics.Metrics
	logger       *slog.Logger
	observers    []func(Event)
	flushes      []func(cluster.FlushStats)
	capacity     int
	storeOpts    []docstore.Option
	maxFailures  int
	resetTimeout time.Duration
	memLimit     uint64
	memInterval  time.Duration
	heapAlloc    func() uint64
	now          func() time.Time

	mu      sync.Mutex
	queue   queue
	wake    chan struct{}
	stop    chan struct{}
	started bool
	closed  bool
	wg      sync.WaitGroup

	// cachesMu guards caches, which Update reads outside the worker.
	cachesMu sync.Mutex
	caches   map[string]*cluster.DocumentIndexCache

	// Owned by the worker.
	breakers map[string]*amerrors.CircuitBreaker

	// indicesMu is held shared by Update and exclusively while the worker
	// deletes index directories.
	indicesMu sync.RWMutex

	active atomic.Pointer[cluster.DocumentIndexCache]
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTimeStamps records per-root indexing state and enables incremental
// FileList units.
func WithTimeStamps(ts *timestamps.TimeStamps) Option {
	return func(s *Scheduler) {
		s.ts = ts
	}
}

// WithPool sets the pool of open persistent indices.
func WithPool(p *store.Pool) Option {
	return func(s *Scheduler) {
		s.pool = p
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithObserver adds a function called with every event.
func WithObserver(fn func(Event)) Option {
	return func(s *Scheduler) {
		s.observers = append(s.observers, fn)
	}
}

// WithProgress feeds events and committed batches into p.
func WithProgress(p *Progress) Option {
	return func(s *Scheduler) {
		s.observers = append(s.observers, p.Observe)
		s.flushes = append(s.flushes, p.Flushed)
	}
}

// WithStoreCapacity sets the buffered bytes per cache that trigger a
// commit.
func WithStoreCapacity(bytes int) Option {
	return func(s *Scheduler) {
		if bytes > 0 {
			s.capacity = bytes
		}
	}
}

// WithStoreOptions configures the document store of every cache.
func WithStoreOptions(opts ...docstore.Option) Option {
	return func(s *Scheduler) {
		s.storeOpts = append(s.storeOpts, opts...)
	}
}

// WithBreaker sets the per-factory circuit breaker thresholds.
func WithBreaker(maxFailures int, resetTimeout time.Duration) Option {
	return func(s *Scheduler) {
		if maxFailures > 0 {
			s.maxFailures = maxFailures
		}
		if resetTimeout > 0 {
			s.resetTimeout = resetTimeout
		}
	}
}

// WithMemoryLimit reclaims the active cache whenever the heap exceeds
// bytes. The heap is sampled every interval.
func WithMemoryLimit(bytes uint64, interval time.Duration) Option {
	return func(s *Scheduler) {
		s.memLimit = bytes
		if interval > 0 {
			s.memInterval = interval
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler. Call Start to begin executing work.
func New(reg RegistryHandle, opts ...Option) *Scheduler {
	s := &Scheduler{
		reg:          reg,
		capacity:     DefaultStoreCapacity,
		maxFailures:  DefaultMaxFailures,
		resetTimeout: DefaultResetTimeout,
		memInterval:  DefaultMemoryInterval,
		heapAlloc:    heapAlloc,
		now:          time.Now,
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		caches:       make(map[string]*cluster.DocumentIndexCache),
		breakers:     make(map[string]*amerrors.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger)
	if s.pool == nil {
		// NewPool only fails for a non-positive capacity.
		s.pool, _ = store.NewPool(store.DefaultOpenIndexes, s.logger)
	}
	return s
}

// Start launches the worker. It returns immediately; the worker stops when
// ctx is cancelled or Close is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	s.wg.Add(1)
	go s.run(ctx)
	if s.memLimit > 0 {
		s.wg.Add(1)
		go s.watchMemory(ctx)
	}
}

// Close stops the worker after the running unit and drops pending units.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	dropped := s.queue.drain()
	s.mu.Unlock()

	for _, u := range dropped {
		if u.isBarrier() {
			u.dropped = true
			close(u.done)
		}
	}
	if len(dropped) > 0 {
		s.logger.Info("scheduler closed with pending work", slog.Int("dropped", len(dropped)))
	}
	s.metrics.QueueDepth(0)
	return nil
}

// Enqueue adds item to the queue without blocking. Items arriving after
// Close are ignored.
func (s *Scheduler) Enqueue(item WorkItem) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("enqueue after close ignored",
			slog.String("kind", item.Kind.String()),
			slog.String("root", item.Root))
		return
	}
	merged := s.queue.push(item)
	depth := s.queue.len()
	s.mu.Unlock()

	s.metrics.Enqueued(item.Kind.String(), merged)
	s.metrics.QueueDepth(depth)
	s.signal()
}

// RunAsWork runs fn on the worker once every unit enqueued before it has
// finished.
func (s *Scheduler) RunAsWork(fn func()) {
	_, _ = s.enqueueBarrier(fn)
}

// WaitSilent blocks until every unit enqueued before the call has finished
// and pending timestamps are persisted.
func (s *Scheduler) WaitSilent(ctx context.Context) error {
	u, err := s.enqueueBarrier(nil)
	if err != nil {
		return err
	}
	select {
	case <-u.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if u.dropped {
		return ErrClosed
	}
	if s.ts != nil {
		return s.ts.Flush(ctx)
	}
	return nil
}

// Pending returns the number of queued units.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}

func (s *Scheduler) enqueueBarrier(fn func()) (*unit, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	u := s.queue.pushBarrier(fn)
	depth := s.queue.len()
	s.mu.Unlock()

	s.metrics.QueueDepth(depth)
	s.signal()
	return u, nil
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		u := s.queue.pop()
		depth := s.queue.len()
		s.mu.Unlock()

		if u == nil {
			select {
			case <-s.wake:
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		s.metrics.QueueDepth(depth)
		if u.isBarrier() {
			s.runBarrier(u)
			continue
		}
		s.execute(ctx, u)
	}
}

func (s *Scheduler) runBarrier(u *unit) {
	defer close(u.done)
	if u.barrier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			amerrors.Log(s.logger, "work function panicked",
				amerrors.SchedulerInternalError("panic in work function", fmt.Errorf("%v", r)))
		}
	}()
	u.barrier()
}

func (s *Scheduler) emit(e Event) {
	for _, fn := range s.observers {
		fn(e)
	}
}

func (s *Scheduler) flushed(stats cluster.FlushStats) {
	s.metrics.Flushed(stats)
	for _, fn := range s.flushes {
		fn(stats)
	}
}

// cacheFor returns the document cache committing to dir.
func (s *Scheduler) cacheFor(root registry.Root, f indexer.Factory, dir string) *cluster.DocumentIndexCache {
	s.cachesMu.Lock()
	defer s.cachesMu.Unlock()
	if c, ok := s.caches[dir]; ok {
		return c
	}
	c := cluster.NewDocumentIndexCache(s.pool.Handle(dir), s.capacity,
		cluster.WithName(f.Name()+"@"+root.Key),
		cluster.WithLogger(s.logger),
		cluster.WithStoreOptions(s.storeOpts...),
		cluster.WithFlushObserver(s.flushed))
	s.caches[dir] = c
	return c
}

func (s *Scheduler) breaker(name string) *amerrors.CircuitBreaker {
	if b, ok := s.breakers[name]; ok {
		return b
	}
	b := amerrors.NewCircuitBreaker(name,
		amerrors.WithMaxFailures(s.maxFailures),
		amerrors.WithResetTimeout(s.resetTimeout),
		amerrors.WithClock(s.now))
	s.breakers[name] = b
	return b
}

// cycle is the execution of one unit.
type cycle struct {
	id     string
	unit   *unit
	start  time.Time
	logger *slog.Logger

	all *cluster.ClusteredIndexables
}

// enumerate lists the root once per cycle.
func (c *cycle) enumerate(ctx context.Context, reg RegistryHandle, root registry.Root) (*cluster.ClusteredIndexables, error) {
	if c.all != nil {
		return c.all, nil
	}
	items, err := reg.Enumerate(ctx, root)
	if err != nil {
		return nil, err
	}
	c.all = cluster.FromSlice(items)
	return c.all, nil
}

func (s *Scheduler) execute(ctx context.Context, u *unit) {
	c := &cycle{id: uuid.NewString(), unit: u, start: s.now()}
	c.logger = s.logger.With(
		slog.String("cycle", c.id),
		slog.String("kind", u.kind.String()),
		slog.String("root", u.root))

	c.logger.Debug("unit started", slog.Int("items", u.items), slog.Int("files", len(u.files)))
	s.emit(Event{Kind: EventUnitStarted, Cycle: c.id, Unit: u.kind, Root: u.root, Files: len(u.files)})

	result, err := s.runUnit(ctx, c)
	d := s.now().Sub(c.start)
	if err != nil {
		amerrors.Log(c.logger, "unit aborted", err)
	} else {
		c.logger.Debug("unit finished", slog.String("result", result), slog.Duration("duration", d))
	}

	s.metrics.UnitDone(u.kind.String(), result, d)
	s.emit(Event{
		Kind:     EventUnitFinished,
		Cycle:    c.id,
		Unit:     u.kind,
		Root:     u.root,
		Result:   result,
		Duration: d,
		Err:      err,
	})
}

// runUnit executes one unit. Errors and panics that escape factory
// isolation abort the unit; the queue is left untouched.
func (s *Scheduler) runUnit(ctx context.Context, c *cycle) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = resultAborted
			err = amerrors.SchedulerInternalError(
				fmt.Sprintf("panic while running %s unit", c.unit.kind), fmt.Errorf("%v", r))
		}
	}()

	u := c.unit
	root, ok := s.reg.Root(u.root)
	if u.kind == Delete && u.whole {
		if err := s.removeRoot(c, u.root); err != nil {
			return resultAborted, err
		}
		return resultOK, nil
	}
	if !ok {
		c.logger.Debug("root not registered, unit skipped")
		return resultSkipped, nil
	}
	if u.kind == Delete {
		s.deleteFiles(ctx, c, root)
		return resultOK, nil
	}
	if err := s.indexRoot(ctx, c, root); err != nil {
		return resultAborted, err
	}
	return resultOK, nil
}

// removeRoot tells every factory that the root is gone and deletes its
// indices and timestamps.
func (s *Scheduler) removeRoot(c *cycle, key string) error {
	factories := s.reg.Factories()
	for _, f := range factories {
		_ = s.call(c, f, "RootsRemoved", func() error {
			f.RootsRemoved([]string{key})
			return nil
		})
	}

	s.indicesMu.Lock()
	defer s.indicesMu.Unlock()
	root := registry.Root{Key: key}
	for _, f := range factories {
		dir := s.reg.IndexDir(root, f)
		s.pool.Drop(dir)
		s.cachesMu.Lock()
		delete(s.caches, dir)
		s.cachesMu.Unlock()
	}
	if err := s.reg.Forget(key); err != nil {
		return amerrors.SchedulerInternalError("failed to delete root indices", err)
	}
	if s.ts != nil {
		s.ts.Remove(key)
	}
	c.logger.Info("root removed", slog.Int("indexers", len(factories)))
	return nil
}

func (s *Scheduler) deleteFiles(ctx context.Context, c *cycle, root registry.Root) {
	stubs := make([]indexer.Indexable, 0, len(c.unit.files))
	for _, rel := range c.unit.files {
		stubs = append(stubs, s.reg.Stub(root, rel))
	}
	deleted := cluster.FromSlice(stubs)

	var failed []indexer.Factory
	for _, f := range s.reg.FactoriesFor(deleted.Mimes()) {
		p := &plan{
			root:    root,
			factory: f,
			dir:     s.reg.IndexDir(root, f),
			kind:    passDelete,
			files:   deleted.Subset(handledBy(f)),
		}
		p.deleted = slicesOf(p.files)
		if s.runFactory(ctx, c, p) != OutcomeClean {
			failed = append(failed, f)
		}
	}
	s.forgetIndexers(root.Key, failed)
}

// indexRoot runs a factory pass for every factory concerned by the unit
// and records the root's state afterwards.
func (s *Scheduler) indexRoot(ctx context.Context, c *cycle, root registry.Root) error {
	u := c.unit
	in := &unitInput{whole: u.whole || root.Kind == registry.RootBinary}

	if in.whole {
		all, err := c.enumerate(ctx, s.reg, root)
		if err != nil {
			return amerrors.SchedulerInternalError("failed to enumerate root", err)
		}
		in.items = all
	} else {
		found, missing := s.reg.Lookup(root, u.files)
		in.items = cluster.FromSlice(found)
		for _, rel := range missing {
			in.missing = append(in.missing, s.reg.Stub(root, rel))
		}
	}
	if len(u.dirty) > 0 {
		found, _ := s.reg.Lookup(root, u.dirty)
		in.dirty = found
	}
	if s.ts != nil {
		in.prev, in.hasPrev = s.ts.GetLastModified(root.Key)
	}
	if root.Kind == registry.RootBinary {
		in.archiveMod = archiveModTime(root.Path)
	}

	results := make(map[factoryKey]Outcome)
	for _, f := range s.candidates(in) {
		p := s.plan(ctx, c, root, f, in)
		if p == nil {
			continue
		}
		results[factoryKey{name: f.Name(), version: f.Version()}] = s.runFactory(ctx, c, p)
	}
	s.record(root.Key, c, in.whole, results)
	return nil
}

// candidates returns the factories concerned by the unit, sorted by name:
// those handling a mime of the unit and, for whole-root units, those that
// indexed the root before.
func (s *Scheduler) candidates(in *unitInput) []indexer.Factory {
	mimes := in.items.Mimes()
	for _, i := range in.missing {
		mimes = append(mimes, i.MimeType)
	}
	for _, i := range in.dirty {
		mimes = append(mimes, i.MimeType)
	}
	out := s.reg.FactoriesFor(mimes)
	if !in.whole || !in.hasPrev {
		return out
	}
	seen := make(map[string]bool, len(out))
	for _, f := range out {
		seen[f.Name()] = true
	}
	for _, f := range s.reg.Factories() {
		if !seen[f.Name()] && in.prev.Has(indexerID(f)) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

type factoryKey struct {
	name    string
	version int
}

// record stores the root's state after a FileList or Scan unit. Factories
// with a clean pass are recorded only for whole-root units; a failed pass
// always drops the factory so the next unit rebuilds its index.
func (s *Scheduler) record(key string, c *cycle, whole bool, results map[factoryKey]Outcome) {
	if s.ts == nil {
		return
	}
	st, ok := s.ts.GetLastModified(key)
	if !ok && !whole {
		return
	}
	if st.Versions == nil {
		st.Versions = make(map[timestamps.IndexerID]int)
	}
	for k, out := range results {
		id := timestamps.IndexerID{Name: k.name, Version: k.version}
		switch {
		case out == OutcomeClean && whole:
			st.Versions[id] = k.version
		case out != OutcomeClean:
			delete(st.Versions, id)
		}
	}
	if whole {
		st.LastModified = c.start.UnixMilli()
	}
	s.ts.SetLastModified(key, st)
}

// forgetIndexers drops factories from a root's state.
func (s *Scheduler) forgetIndexers(key string, factories []indexer.Factory) {
	if s.ts == nil || len(factories) == 0 {
		return
	}
	st, ok := s.ts.GetLastModified(key)
	if !ok {
		return
	}
	for _, f := range factories {
		delete(st.Versions, indexerID(f))
	}
	s.ts.SetLastModified(key, st)
}

func indexerID(f indexer.Factory) timestamps.IndexerID {
	return timestamps.IndexerID{Name: f.Name(), Version: f.Version()}
}
