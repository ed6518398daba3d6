package indexer

import (
	"context"
	"iter"
	"slices"
)

// MimeAny in Factory.MimeTypes matches every mime type.
const MimeAny = "*"

// Factory creates indexers for a set of mime types and receives the
// scan lifecycle callbacks.
type Factory interface {
	// Name identifies the factory and its index.
	Name() string
	// Version is the index schema version. Changing it forces a reindex.
	Version() int
	// MimeTypes lists the mime types this factory indexes.
	MimeTypes() []string

	// CreateIndexer returns the indexer for one pass.
	CreateIndexer() Indexer

	// ScanStarted is called before any other callback of a pass.
	// Returning false or an error skips the factory for this pass;
	// ScanFinished is still called.
	ScanStarted(ctx Context) (bool, error)
	// FilesDeleted reports indexables removed from the root. Their
	// documents are removed from the index after the callback.
	FilesDeleted(deleted []Indexable, ctx Context) error
	// FilesDirty reports indexables modified but not yet saved.
	FilesDirty(dirty []Indexable, ctx Context) error
	// ScanFinished is called once per pass that called ScanStarted.
	ScanFinished(ctx Context) error
	// RootsRemoved reports roots that are no longer indexed.
	RootsRemoved(roots []string)
}

// Indexer turns indexables into documents.
type Indexer interface {
	Index(files iter.Seq[Indexable], ctx Context) error
}

// IndexerFunc adapts a function to the Indexer interface.
type IndexerFunc func(files iter.Seq[Indexable], ctx Context) error

// Index calls f.
func (f IndexerFunc) Index(files iter.Seq[Indexable], ctx Context) error {
	return f(files, ctx)
}

// Context is handed to every factory callback of a pass.
type Context interface {
	// Context returns the context of the running unit.
	Context() context.Context
	// Root is the URL key of the root being indexed.
	Root() string
	// RootPath is the local path of the root.
	RootPath() string
	// IndexerName is the name of the factory the context belongs to.
	IndexerName() string
	// IsAllFilesIndexing reports whether the pass rebuilds the whole index.
	IsAllFilesIndexing() bool
	// AddDocument buffers a document for the pass.
	AddDocument(doc *Document) error
	// RemoveDocuments drops every document with one of the primary keys.
	RemoveDocuments(keys ...string)
}

// Handles reports whether f indexes mime.
func Handles(f Factory, mime string) bool {
	types := f.MimeTypes()
	return slices.Contains(types, MimeAny) || slices.Contains(types, mime)
}

// BaseFactory provides no-op lifecycle callbacks for embedding.
type BaseFactory struct{}

// ScanStarted accepts every pass.
func (BaseFactory) ScanStarted(Context) (bool, error) { return true, nil }

// FilesDeleted does nothing; documents are removed by the scheduler.
func (BaseFactory) FilesDeleted([]Indexable, Context) error { return nil }

// FilesDirty does nothing.
func (BaseFactory) FilesDirty([]Indexable, Context) error { return nil }

// ScanFinished does nothing.
func (BaseFactory) ScanFinished(Context) error { return nil }

// RootsRemoved does nothing.
func (BaseFactory) RootsRemoved([]string) {}
