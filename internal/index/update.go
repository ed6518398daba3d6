package index

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Aman-CERP/amanidx/internal/cluster"
	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

// Update indexes files of a root right away on the calling goroutine,
// outside the queue. Every factory handling one of the files runs its
// ScanStarted, Index and ScanFinished callbacks, and the documents are
// committed with a transient update that does not wait for a pass running
// on the worker. Files that no longer exist are ignored.
//
// Update does not record timestamps; callers enqueue the same files as a
// FileList so the root's bookkeeping follows.
func (s *Scheduler) Update(ctx context.Context, rootKey string, files []string) error {
	s.indicesMu.RLock()
	defer s.indicesMu.RUnlock()

	root, ok := s.reg.Root(rootKey)
	if !ok {
		return nil
	}
	found, _ := s.reg.Lookup(root, files)
	if len(found) == 0 {
		return nil
	}
	items := cluster.FromSlice(found)

	c := &cycle{id: uuid.NewString(), start: s.now()}
	c.logger = s.logger.With(
		slog.String("cycle", c.id),
		slog.String("kind", "update"),
		slog.String("root", root.Key))

	ctx = cluster.WithTransient(ctx)
	var errs []error
	for _, f := range s.reg.FactoriesFor(items.Mimes()) {
		uc := &updateContext{ctx: ctx, root: root.Key, path: root.Path, name: f.Name()}

		proceed := false
		err := s.call(c, f, "ScanStarted", func() error {
			var err error
			proceed, err = f.ScanStarted(uc)
			return err
		})
		if proceed && err == nil {
			err = s.call(c, f, "Index", func() error {
				return f.CreateIndexer().Index(items.IndexablesForAny(f.MimeTypes()), uc)
			})
		}
		if ferr := s.call(c, f, "ScanFinished", func() error { return f.ScanFinished(uc) }); err == nil {
			err = ferr
		}
		if err != nil || !proceed {
			errs = append(errs, err)
			continue
		}

		cache := s.cacheFor(root, f, s.reg.IndexDir(root, f))
		removeKeys := append(uc.removed, keysOf(slicesOf(items.Subset(handledBy(f))))...)
		if err := cache.Update(ctx, uc.docs, removeKeys); err != nil {
			errs = append(errs, err)
			continue
		}
		c.logger.Debug("files updated",
			slog.String("indexer", f.Name()),
			slog.Int("documents", len(uc.docs)))
	}
	return errors.Join(errs...)
}

// updateContext collects the documents of one factory in Update.
type updateContext struct {
	ctx  context.Context
	root string
	path string
	name string

	docs    []*indexer.Document
	removed []string
}

func (u *updateContext) Context() context.Context { return u.ctx }

func (u *updateContext) Root() string { return u.root }

func (u *updateContext) RootPath() string { return u.path }

func (u *updateContext) IndexerName() string { return u.name }

func (u *updateContext) IsAllFilesIndexing() bool { return false }

func (u *updateContext) AddDocument(doc *indexer.Document) error {
	u.docs = append(u.docs, doc)
	return nil
}

func (u *updateContext) RemoveDocuments(keys ...string) {
	u.removed = append(u.removed, keys...)
}
