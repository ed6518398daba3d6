package index

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/Aman-CERP/amanidx/internal/cluster"
	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/internal/registry"
	"github.com/Aman-CERP/amanidx/internal/timestamps"
	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

type passKind int

const (
	passIndex passKind = iota
	passDelete
)

// unitInput is what a FileList or Scan unit resolved to.
type unitInput struct {
	whole      bool
	items      *cluster.ClusteredIndexables
	missing    []indexer.Indexable
	dirty      []indexer.Indexable
	prev       timestamps.State
	hasPrev    bool
	archiveMod time.Time
}

// plan is the work of one factory in one unit.
type plan struct {
	root    registry.Root
	factory indexer.Factory
	dir     string
	kind    passKind
	files   *cluster.ClusteredIndexables
	deleted []indexer.Indexable
	dirty   []indexer.Indexable

	// stale holds keys in the index whose file no longer exists. When the
	// index could not be read ahead of the pass, probe asks the pass to
	// read it.
	stale []string
	probe bool
}

func (p *plan) allFiles() bool {
	return p.files.IsAllFiles()
}

// plan selects the files f indexes in the unit, or returns nil when f has
// nothing to do.
func (s *Scheduler) plan(ctx context.Context, c *cycle, root registry.Root, f indexer.Factory, in *unitInput) *plan {
	mine := handledBy(f)
	p := &plan{
		root:    root,
		factory: f,
		dir:     s.reg.IndexDir(root, f),
		kind:    passIndex,
		dirty:   slices.DeleteFunc(slices.Clone(in.dirty), not(mine)),
		deleted: slices.DeleteFunc(slices.Clone(in.missing), not(mine)),
	}

	id := indexerID(f)
	switch {
	case c.unit.kind == Scan:
		p.files = in.items.Subset(mine).AsAllFiles()
	case !in.whole:
		p.files = in.items.Subset(mine)
	case !in.hasPrev || !in.prev.Has(id):
		p.files = in.items.Subset(mine).AsAllFiles()
	case root.Kind == registry.RootBinary:
		if s.ts.IsUpToDate(root.Key, in.archiveMod, id) {
			p.files = in.items.Subset(func(indexer.Indexable) bool { return false })
		} else {
			p.files = in.items.Subset(mine).AsAllFiles()
		}
	default:
		// A file changed after the last pass, or one the index has never
		// seen: copies and moves keep their old modification time.
		since := in.prev.LastModified
		indexed := s.findStale(ctx, c, p, in.items)
		p.files = in.items.Subset(func(i indexer.Indexable) bool {
			if !mine(i) {
				return false
			}
			if i.ModTime.UnixMilli() > since {
				return true
			}
			return indexed != nil && !indexed[i.PrimaryKey()]
		})
	}

	if p.files.Len() == 0 && !p.allFiles() && len(p.deleted) == 0 && len(p.dirty) == 0 &&
		len(p.stale) == 0 && !p.probe {
		return nil
	}
	return p
}

// findStale compares the keys in the index with the enumerated root and
// returns the set of indexed keys, or nil when the index cannot be read.
func (s *Scheduler) findStale(ctx context.Context, c *cycle, p *plan, present *cluster.ClusteredIndexables) map[string]bool {
	keys, err := s.pool.Handle(p.dir).PrimaryKeys(ctx)
	if err != nil {
		c.logger.Debug("index keys unavailable before pass",
			slog.String("indexer", p.factory.Name()),
			slog.String("error", err.Error()))
		p.probe = true
		return nil
	}
	p.stale = staleKeys(keys, present)
	indexed := make(map[string]bool, len(keys))
	for _, k := range keys {
		indexed[k] = true
	}
	return indexed
}

func staleKeys(keys []string, present *cluster.ClusteredIndexables) []string {
	live := make(map[string]bool, present.Len())
	for _, k := range present.Keys() {
		live[k] = true
	}
	var stale []string
	for _, k := range keys {
		if !live[k] {
			stale = append(stale, k)
		}
	}
	return stale
}

// runFactory runs the passes of one factory: the pass itself, one rerun
// when it went stale, and recovery when the index is corrupt.
func (s *Scheduler) runFactory(ctx context.Context, c *cycle, p *plan) Outcome {
	name := p.factory.Name()
	br := s.breaker(name)
	if !br.Allow() {
		c.logger.Warn("indexer skipped, circuit open", slog.String("indexer", name))
		s.finishPass(c, p, OutcomeSkipped, nil)
		return OutcomeSkipped
	}

	out, err := s.runPass(ctx, c, p)
	if out == OutcomeStale {
		c.logger.Info("attachment reclaimed, rerunning pass", slog.String("indexer", name))
		if out, err = s.runPass(ctx, c, p); out == OutcomeStale {
			out = OutcomeDegraded
		}
	}
	if out == OutcomeBroken {
		out = s.recoverIndex(ctx, c, p, err)
	}

	switch out {
	case OutcomeClean:
		br.RecordSuccess()
	case OutcomeDegraded, OutcomeBroken:
		br.RecordFailure()
	}
	return out
}

// recoverIndex deletes a corrupt index and rebuilds it from every file of
// the root.
func (s *Scheduler) recoverIndex(ctx context.Context, c *cycle, p *plan, cause error) Outcome {
	f := p.factory
	amerrors.Log(c.logger, "index corrupt, rebuilding", cause, slog.String("indexer", f.Name()))
	s.metrics.Recovery(f.Name())
	s.emit(Event{
		Kind:    EventRecovery,
		Cycle:   c.id,
		Unit:    c.unit.kind,
		Root:    p.root.Key,
		Indexer: f.Name(),
		Err:     cause,
	})

	s.indicesMu.Lock()
	err := s.pool.Destroy(p.dir)
	s.indicesMu.Unlock()
	if err != nil {
		amerrors.Log(c.logger, "failed to delete corrupt index", err, slog.String("dir", p.dir))
		return OutcomeDegraded
	}
	s.forgetIndexers(p.root.Key, []indexer.Factory{f})

	all, err := c.enumerate(ctx, s.reg, p.root)
	if err != nil {
		amerrors.Log(c.logger, "failed to enumerate root for recovery",
			amerrors.SchedulerInternalError("enumeration failed", err))
		return OutcomeDegraded
	}
	rebuild := &plan{
		root:    p.root,
		factory: f,
		dir:     p.dir,
		kind:    passIndex,
		files:   all.Subset(handledBy(f)).AsAllFiles(),
		dirty:   p.dirty,
	}
	out, _ := s.runPass(ctx, c, rebuild)
	if out != OutcomeClean {
		return OutcomeDegraded
	}
	return OutcomeClean
}

// runPass attaches the factory's cache, drives the factory callbacks and
// commits the documents they produce.
func (s *Scheduler) runPass(ctx context.Context, c *cycle, p *plan) (Outcome, error) {
	f := p.factory
	cache := s.cacheFor(p.root, f, p.dir)

	name := cluster.AttachIndex
	queued := p.files.Len()
	if p.kind == passDelete {
		name = cluster.AttachDelete
		queued = 0
	}
	s.emit(Event{
		Kind:     EventScanStarting,
		Cycle:    c.id,
		Unit:     c.unit.kind,
		Root:     p.root.Key,
		Indexer:  f.Name(),
		Files:    queued,
		AllFiles: p.allFiles(),
	})

	tok, err := cache.Attach(name, p.files)
	if err != nil {
		return s.finishPass(c, p, OutcomeDegraded, err), err
	}
	s.active.Store(cache)
	defer func() {
		s.active.Store(nil)
		cache.Detach()
	}()

	pc := &passContext{
		ctx:      ctx,
		root:     p.root,
		name:     f.Name(),
		allFiles: p.allFiles(),
		cache:    cache,
		tok:      tok,
		logger:   c.logger,
	}

	var failed error
	keep := func(err error) {
		if failed == nil {
			failed = err
		}
	}

	proceed := false
	err = s.call(c, f, "ScanStarted", func() error {
		var err error
		proceed, err = f.ScanStarted(pc)
		return err
	})
	keep(err)
	declined := err == nil && !proceed

	if proceed && err == nil {
		if p.kind == passDelete {
			keep(s.call(c, f, "FilesDeleted", func() error { return f.FilesDeleted(p.deleted, pc) }))
			_ = pc.flush()
		} else {
			s.indexFiles(c, p, pc, keep)
		}
	}

	keep(s.call(c, f, "ScanFinished", func() error { return f.ScanFinished(pc) }))
	s.emit(Event{
		Kind:    EventScanFinished,
		Cycle:   c.id,
		Unit:    c.unit.kind,
		Root:    p.root.Key,
		Indexer: f.Name(),
	})

	out := classify(pc.err, failed, declined)
	cause := pc.err
	if cause == nil {
		cause = failed
	}
	return s.finishPass(c, p, out, cause), cause
}

// indexFiles runs the body of an index pass after ScanStarted accepted it.
func (s *Scheduler) indexFiles(c *cycle, p *plan, pc *passContext, keep func(error)) {
	f := p.factory

	stale := p.stale
	if p.probe {
		keys, err := s.pool.Handle(p.dir).PrimaryKeys(pc.ctx)
		if err != nil {
			pc.err = err
			return
		}
		stale = staleKeys(keys, c.all)
	}

	deleted := slices.Clone(p.deleted)
	for _, k := range stale {
		deleted = append(deleted, s.reg.Stub(p.root, k))
	}
	if len(deleted) > 0 {
		keep(s.call(c, f, "FilesDeleted", func() error { return f.FilesDeleted(deleted, pc) }))
		pc.RemoveDocuments(keysOf(deleted)...)
	}
	if len(p.dirty) > 0 {
		keep(s.call(c, f, "FilesDirty", func() error { return f.FilesDirty(p.dirty, pc) }))
	}
	keep(s.call(c, f, "Index", func() error {
		return f.CreateIndexer().Index(p.files.IndexablesFor(""), pc)
	}))
	_ = pc.flush()
}

func classify(commitErr, callbackErr error, declined bool) Outcome {
	switch {
	case commitErr != nil && errors.Is(commitErr, amerrors.ErrCorruptIndex):
		return OutcomeBroken
	case commitErr != nil && errors.Is(commitErr, amerrors.ErrStaleAttachment):
		return OutcomeStale
	case commitErr != nil, callbackErr != nil:
		return OutcomeDegraded
	case declined:
		return OutcomeSkipped
	default:
		return OutcomeClean
	}
}

func (s *Scheduler) finishPass(c *cycle, p *plan, out Outcome, err error) Outcome {
	name := p.factory.Name()
	s.metrics.PassDone(name, string(out))
	if out != OutcomeClean && out != OutcomeSkipped && err != nil {
		amerrors.Log(c.logger, "indexing pass "+string(out), err, slog.String("indexer", name))
	}
	s.emit(Event{
		Kind:     EventPassFinished,
		Cycle:    c.id,
		Unit:     c.unit.kind,
		Root:     p.root.Key,
		Indexer:  name,
		Files:    p.files.Len(),
		AllFiles: p.allFiles(),
		Outcome:  out,
		Err:      err,
	})
	return out
}

// call runs one factory callback, converting a panic into an error.
func (s *Scheduler) call(c *cycle, f indexer.Factory, callback string, fn func() error) error {
	var pc panics.Catcher
	var err error
	pc.Try(func() { err = fn() })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err == nil {
		return nil
	}
	err = amerrors.IndexerError(f.Name(), callback, err)
	amerrors.Log(c.logger, "indexer callback failed", err)
	return err
}

// passContext is the indexer.Context of one pass.
type passContext struct {
	ctx      context.Context
	root     registry.Root
	name     string
	allFiles bool
	cache    *cluster.DocumentIndexCache
	tok      *cluster.Attachment
	logger   *slog.Logger

	// err is the first failed commit; once set the pass stops buffering.
	err error
}

func (p *passContext) Context() context.Context { return p.ctx }

func (p *passContext) Root() string { return p.root.Key }

func (p *passContext) RootPath() string { return p.root.Path }

func (p *passContext) IndexerName() string { return p.name }

func (p *passContext) IsAllFilesIndexing() bool { return p.allFiles }

// AddDocument buffers doc and commits when the buffer is full. When the
// buffer cannot grow, the buffered documents are committed and doc is
// added once more.
func (p *passContext) AddDocument(doc *indexer.Document) error {
	if p.err != nil {
		return p.err
	}
	full, err := p.cache.AddDocument(doc)
	if errors.Is(err, amerrors.ErrAllocationFailed) {
		p.logger.Warn("document buffer full, committing early",
			slog.String("indexer", p.name),
			slog.String("key", doc.PrimaryKey))
		if ferr := p.flush(); ferr != nil {
			return ferr
		}
		full, err = p.cache.AddDocument(doc)
	}
	if err != nil {
		return err
	}
	if full {
		return p.flush()
	}
	return nil
}

func (p *passContext) RemoveDocuments(keys ...string) {
	p.cache.RemoveDocuments(keys...)
}

func (p *passContext) flush() error {
	if p.err != nil {
		return p.err
	}
	if err := p.cache.Flush(p.ctx, p.tok); err != nil {
		p.err = err
	}
	return p.err
}

func handledBy(f indexer.Factory) func(indexer.Indexable) bool {
	return func(i indexer.Indexable) bool {
		return indexer.Handles(f, i.MimeType)
	}
}

func not[T any](fn func(T) bool) func(T) bool {
	return func(v T) bool { return !fn(v) }
}

func keysOf(items []indexer.Indexable) []string {
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.PrimaryKey()
	}
	return keys
}

func slicesOf(ci *cluster.ClusteredIndexables) []indexer.Indexable {
	return slices.Collect(ci.IndexablesFor(""))
}

// archiveModTime returns the modification time of a binary root, or the
// zero time when it cannot be read.
func archiveModTime(path string) time.Time {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}
