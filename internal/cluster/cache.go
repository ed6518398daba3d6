package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/amanidx/internal/docstore"
	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/internal/logging"
	"github.com/Aman-CERP/amanidx/internal/store"
	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

// IndexName selects what an attachment does with its indexables.
type IndexName string

const (
	// AttachIndex replaces the documents of the attached indexables.
	AttachIndex IndexName = "index"
	// AttachDelete removes the documents of the attached indexables.
	AttachDelete IndexName = "delete"
)

// Writer commits batches to a persistent index.
type Writer interface {
	Apply(ctx context.Context, b *store.Batch) error
}

// Converter maps a produced document to its native form.
type Converter func(doc *indexer.Document, seq int) store.Document

// FlushStats describes one committed batch.
type FlushStats struct {
	Cache     string
	Documents int
	Removed   int
	Reset     bool
	Bytes     int
	Duration  time.Duration
}

// Attachment is the token of one attach. It stays valid until the cache
// is reclaimed.
type Attachment struct {
	name  IndexName
	ci    *ClusteredIndexables
	epoch uint64
}

// Name returns what the attachment does.
func (a *Attachment) Name() IndexName { return a.name }

// Indexables returns the attached set.
func (a *Attachment) Indexables() *ClusteredIndexables { return a.ci }

// Epoch returns the cache epoch the attachment was created in.
func (a *Attachment) Epoch() uint64 { return a.epoch }

// DocumentIndexCache buffers the documents of one attachment at a time and
// commits them to its writer.
//
// The producing worker owns Attach, AddDocument, Flush and Detach. Reclaim
// and Update may be called from any goroutine.
type DocumentIndexCache struct {
	name      string
	writer    Writer
	convert   Converter
	logger    *slog.Logger
	onFlush   func(FlushStats)
	storeOpts []docstore.Option
	scope     *ClusteredIndexables

	mu       sync.Mutex
	docs     *docstore.Store
	attached *Attachment
	detached chan struct{}
	epoch    uint64

	// Per attachment.
	removals     []string
	cleared      map[string]bool
	seq          map[string]int
	resetPending bool
	scopeCleared bool
}

// CacheOption configures a DocumentIndexCache.
type CacheOption func(*DocumentIndexCache)

// WithName sets the name used in logs and errors.
func WithName(name string) CacheOption {
	return func(c *DocumentIndexCache) {
		c.name = name
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *DocumentIndexCache) {
		c.logger = l
	}
}

// WithConverter replaces store.Convert.
func WithConverter(fn Converter) CacheOption {
	return func(c *DocumentIndexCache) {
		c.convert = fn
	}
}

// WithStoreOptions configures the document store.
func WithStoreOptions(opts ...docstore.Option) CacheOption {
	return func(c *DocumentIndexCache) {
		c.storeOpts = append(c.storeOpts, opts...)
	}
}

// WithFlushObserver is called after every committed batch.
func WithFlushObserver(fn func(FlushStats)) CacheOption {
	return func(c *DocumentIndexCache) {
		c.onFlush = fn
	}
}

// NewDocumentIndexCache creates a cache committing to w. capacity is the
// estimated buffer size in bytes at which AddDocument asks for a flush.
func NewDocumentIndexCache(w Writer, capacity int, opts ...CacheOption) *DocumentIndexCache {
	c := &DocumentIndexCache{
		name:    "cache",
		writer:  w,
		convert: store.Convert,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDefault(c.logger)
	c.docs = docstore.New(capacity, c.storeOpts...)
	return c
}

// Name returns the cache name.
func (c *DocumentIndexCache) Name() string {
	return c.name
}

// Converter returns the document converter.
func (c *DocumentIndexCache) Converter() Converter {
	return c.convert
}

// Attach starts an attachment for ci. A nil ci attaches the set the cache
// was created from. Only one attachment may be live at a time.
func (c *DocumentIndexCache) Attach(name IndexName, ci *ClusteredIndexables) (*Attachment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attached != nil {
		err := amerrors.AttachConflictError(c.name, string(c.attached.name), string(name))
		amerrors.Log(c.logger, "attach rejected", err)
		return nil, err
	}
	if ci == nil {
		ci = c.scope
	}
	if ci == nil {
		ci = NewClusteredIndexables(nil)
	}

	c.attached = &Attachment{name: name, ci: ci, epoch: c.epoch}
	c.detached = make(chan struct{})
	c.docs.Clear()
	c.removals = nil
	c.cleared = make(map[string]bool)
	c.seq = make(map[string]int)
	c.resetPending = name == AttachIndex && ci.IsAllFiles()
	c.scopeCleared = false
	return c.attached, nil
}

// Detach ends the live attachment and releases Update callers waiting on
// it. Unflushed documents are dropped. Detach without an attachment does
// nothing.
func (c *DocumentIndexCache) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached == nil {
		return
	}
	c.attached = nil
	c.docs.Clear()
	c.removals = nil
	close(c.detached)
}

// Attached reports whether an attachment is live.
func (c *DocumentIndexCache) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached != nil
}

// AddDocument buffers doc and reports whether the buffer should be flushed.
func (c *DocumentIndexCache) AddDocument(doc *indexer.Document) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached == nil {
		return false, amerrors.New(amerrors.ErrCodeInternal, "add document without attachment to "+c.name, nil)
	}
	return c.docs.AddDocument(doc)
}

// RemoveDocuments schedules removal of every document with one of keys.
func (c *DocumentIndexCache) RemoveDocuments(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if c.cleared != nil {
			c.cleared[k] = true
		}
		c.removals = append(c.removals, k)
	}
}

// BufferedBytes returns the estimated size of the buffered documents.
func (c *DocumentIndexCache) BufferedBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docs.EstimatedBytes()
}

// Flush commits the buffered documents of the attachment tok.
//
// The first flush of an attachment removes the documents of every attached
// indexable, or the whole index for an AllFiles set. Later flushes only
// remove keys that appear for the first time.
func (c *DocumentIndexCache) Flush(ctx context.Context, tok *Attachment) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tok == nil || c.attached != tok {
		return amerrors.New(amerrors.ErrCodeInternal, "flush of a detached attachment on "+c.name, nil)
	}
	if tok.epoch != c.epoch {
		return amerrors.StaleAttachmentError(c.name, tok.epoch, c.epoch)
	}

	start := time.Now()
	b := &store.Batch{Reset: c.resetPending}
	pending := make(map[string]bool)
	remove := func(k string) {
		if c.cleared[k] || pending[k] {
			return
		}
		pending[k] = true
		if !b.Reset {
			b.Remove = append(b.Remove, k)
		}
	}
	if !c.scopeCleared {
		for _, k := range tok.ci.Keys() {
			remove(k)
		}
	}
	b.Remove = append(b.Remove, c.removals...)

	seq := make(map[string]int)
	if tok.name == AttachIndex {
		for doc := range c.docs.All() {
			pk := doc.PrimaryKey
			remove(pk)
			b.Add = append(b.Add, c.convert(doc, c.seq[pk]+seq[pk]))
			seq[pk]++
		}
	}
	bytes := c.docs.EstimatedBytes()

	if err := c.writer.Apply(ctx, b); err != nil {
		return err
	}
	for k := range pending {
		c.cleared[k] = true
	}
	for k, n := range seq {
		c.seq[k] += n
	}
	c.scopeCleared = true
	c.resetPending = false
	c.removals = nil
	c.docs.Clear()

	if c.onFlush != nil {
		c.onFlush(FlushStats{
			Cache:     c.name,
			Documents: len(b.Add),
			Removed:   len(b.Remove),
			Reset:     b.Reset,
			Bytes:     bytes,
			Duration:  time.Since(start),
		})
	}
	return nil
}

// Reclaim drops the buffered documents and invalidates the live attachment.
// Documents already committed stay in the index.
func (c *DocumentIndexCache) Reclaim() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.docs.Clear()
	c.removals = nil
	c.logger.Warn("document cache reclaimed",
		slog.String("cache", c.name),
		slog.Uint64("epoch", c.epoch))
}

// Update commits docs and removes removeKeys outside of any attachment.
// Documents of docs replace every document with the same primary key.
//
// While an attachment is live Update waits for it to detach, unless ctx
// was marked with WithTransient.
func (c *DocumentIndexCache) Update(ctx context.Context, docs []*indexer.Document, removeKeys []string) error {
	transient := IsTransient(ctx)
	for {
		c.mu.Lock()
		if c.attached == nil || transient {
			break
		}
		wait := c.detached
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer c.mu.Unlock()

	b := &store.Batch{Remove: append([]string(nil), removeKeys...)}
	seq := make(map[string]int)
	for _, doc := range docs {
		pk := doc.PrimaryKey
		if _, seen := seq[pk]; !seen {
			b.Remove = append(b.Remove, pk)
		}
		b.Add = append(b.Add, c.convert(doc, seq[pk]))
		seq[pk]++
	}
	return c.writer.Apply(ctx, b)
}

type transientKey struct{}

// WithTransient marks ctx so that Update does not wait for a live
// attachment.
func WithTransient(ctx context.Context) context.Context {
	return context.WithValue(ctx, transientKey{}, true)
}

// IsTransient reports whether ctx was marked with WithTransient.
func IsTransient(ctx context.Context) bool {
	v, _ := ctx.Value(transientKey{}).(bool)
	return v
}
