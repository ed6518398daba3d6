// Package indexer is the extension point of amanidx.
//
// Indexer factories plug into the scheduler through the Factory interface.
// For every dispatched unit of work the scheduler calls, per factory whose
// mime types occur in the root:
//
//	ScanStarted ─► FilesDirty / Index  or  FilesDeleted ─► ScanFinished
//
// Documents produced through Context.AddDocument are batched in memory and
// flushed into the persistent index for the (root, factory) pair. Every
// document carries a primary key derived from its Indexable; reindexing an
// indexable replaces all documents that share its key.
//
// # Usage
//
//	type todoFactory struct{ indexer.BaseFactory }
//
//	func (todoFactory) Name() string        { return "todo" }
//	func (todoFactory) Version() int        { return 1 }
//	func (todoFactory) MimeTypes() []string { return []string{"text/x-go"} }
//	func (todoFactory) CreateIndexer() indexer.Indexer {
//	    return indexer.IndexerFunc(func(files iter.Seq[indexer.Indexable], ctx indexer.Context) error {
//	        for f := range files {
//	            doc := indexer.NewDocument(f.RelativePath).Add("path", f.RelativePath, true, true)
//	            if err := ctx.AddDocument(doc); err != nil {
//	                return err
//	            }
//	        }
//	        return nil
//	    })
//	}
//
// # Thread Safety
//
// Factory callbacks run on the scheduler's single worker goroutine and are
// never called concurrently for the same scheduler.
package indexer
