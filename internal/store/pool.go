package store

import (
	"context"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanidx/internal/logging"
)

// DefaultOpenIndexes is the default number of indices kept open.
const DefaultOpenIndexes = 16

// Pool keeps a bounded number of indices open, closing the least
// recently used one when a new index is opened.
type Pool struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, *Index]
	logger   *slog.Logger
	draining bool
	open     func(string) (*Index, error)
}

// NewPool creates a pool holding at most capacity open indices.
func NewPool(capacity int, logger *slog.Logger) (*Pool, error) {
	if capacity <= 0 {
		capacity = DefaultOpenIndexes
	}
	p := &Pool{logger: logging.OrDefault(logger), open: Open}
	cache, err := lru.NewWithEvict(capacity, p.evicted)
	if err != nil {
		return nil, err
	}
	p.cache = cache
	return p, nil
}

// evicted runs under the pool lock.
func (p *Pool) evicted(path string, idx *Index) {
	if p.draining {
		return
	}
	if err := idx.Close(); err != nil {
		p.logger.Warn("failed to close evicted index", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// With runs fn with the index at path, opening it if needed.
// The index stays open for the duration of fn.
func (p *Pool) With(path string, fn func(*Index) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.cache.Get(path)
	if !ok {
		var err error
		if idx, err = p.open(path); err != nil {
			return err
		}
		p.cache.Add(path, idx)
	}
	return fn(idx)
}

// Drop closes the index at path if it is open.
func (p *Pool) Drop(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(path)
}

// Destroy closes the index at path and deletes its files.
func (p *Pool) Destroy(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(path)
	return Remove(path)
}

// Len returns the number of open indices.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}

// CloseAll closes every open index concurrently.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	indices := p.cache.Values()
	p.draining = true
	p.cache.Purge()
	p.draining = false

	var g errgroup.Group
	for _, idx := range indices {
		g.Go(idx.Close)
	}
	return g.Wait()
}

// Handle returns a writer for the index at path. Nothing is opened until
// the first call.
func (p *Pool) Handle(path string) *Handle {
	return &Handle{pool: p, path: path}
}

// Handle is a lazily opened index.
type Handle struct {
	pool *Pool
	path string
}

// Path returns the index directory.
func (h *Handle) Path() string {
	return h.path
}

// Apply applies b to the index.
func (h *Handle) Apply(ctx context.Context, b *Batch) error {
	if b.Empty() {
		return nil
	}
	return h.pool.With(h.path, func(idx *Index) error {
		return idx.Apply(ctx, b)
	})
}

// DocCount returns the number of documents in the index.
func (h *Handle) DocCount() (uint64, error) {
	var n uint64
	err := h.pool.With(h.path, func(idx *Index) error {
		var err error
		n, err = idx.DocCount()
		return err
	})
	return n, err
}

// PrimaryKeys returns the distinct primary keys in the index.
func (h *Handle) PrimaryKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := h.pool.With(h.path, func(idx *Index) error {
		var err error
		keys, err = idx.PrimaryKeys(ctx)
		return err
	})
	return keys, err
}
