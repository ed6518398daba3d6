// Package cluster partitions a root's indexables by mime type and buffers
// the documents produced from them until they are committed to an index.
package cluster

import (
	"iter"
	"slices"

	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

// ClusteredIndexables is an immutable set of indexables grouped by mime
// type. Every view preserves the original enumeration order.
type ClusteredIndexables struct {
	items    []indexer.Indexable
	byMime   map[string][]int
	mimes    []string
	allFiles bool
}

// NewClusteredIndexables materializes items once.
func NewClusteredIndexables(items iter.Seq[indexer.Indexable]) *ClusteredIndexables {
	var all []indexer.Indexable
	if items != nil {
		all = slices.Collect(items)
	}
	return fromSlice(all)
}

// FromSlice builds a set from indexables already in memory.
func FromSlice(items []indexer.Indexable) *ClusteredIndexables {
	return fromSlice(slices.Clone(items))
}

func fromSlice(items []indexer.Indexable) *ClusteredIndexables {
	c := &ClusteredIndexables{
		items:  items,
		byMime: make(map[string][]int),
	}
	for i, ix := range items {
		if _, seen := c.byMime[ix.MimeType]; !seen {
			c.mimes = append(c.mimes, ix.MimeType)
		}
		c.byMime[ix.MimeType] = append(c.byMime[ix.MimeType], i)
	}
	return c
}

// IndexablesFor yields the indexables of one mime type. The empty mime
// yields every indexable.
func (c *ClusteredIndexables) IndexablesFor(mime string) iter.Seq[indexer.Indexable] {
	if mime == "" {
		return slices.Values(c.items)
	}
	positions := c.byMime[mime]
	return func(yield func(indexer.Indexable) bool) {
		for _, i := range positions {
			if !yield(c.items[i]) {
				return
			}
		}
	}
}

// IndexablesForAny yields the indexables whose mime type is in mimes.
// indexer.MimeAny matches every mime type.
func (c *ClusteredIndexables) IndexablesForAny(mimes []string) iter.Seq[indexer.Indexable] {
	if slices.Contains(mimes, indexer.MimeAny) {
		return slices.Values(c.items)
	}
	return func(yield func(indexer.Indexable) bool) {
		for _, ix := range c.items {
			if slices.Contains(mimes, ix.MimeType) && !yield(ix) {
				return
			}
		}
	}
}

// Mimes returns the distinct mime types in order of first appearance.
func (c *ClusteredIndexables) Mimes() []string {
	return slices.Clone(c.mimes)
}

// Len returns the number of indexables.
func (c *ClusteredIndexables) Len() int {
	return len(c.items)
}

// Keys returns the primary keys of every indexable.
func (c *ClusteredIndexables) Keys() []string {
	keys := make([]string, len(c.items))
	for i, ix := range c.items {
		keys[i] = ix.PrimaryKey()
	}
	return keys
}

// Subset returns the indexables for which keep returns true.
func (c *ClusteredIndexables) Subset(keep func(indexer.Indexable) bool) *ClusteredIndexables {
	var kept []indexer.Indexable
	for _, ix := range c.items {
		if keep(ix) {
			kept = append(kept, ix)
		}
	}
	return fromSlice(kept)
}

// AsAllFiles returns the same set marked as the complete content of its
// root. Committing an AllFiles set rebuilds the index from scratch.
func (c *ClusteredIndexables) AsAllFiles() *ClusteredIndexables {
	cp := *c
	cp.allFiles = true
	return &cp
}

// IsAllFiles reports whether the set is the complete content of its root.
func (c *ClusteredIndexables) IsAllFiles() bool {
	return c.allFiles
}

// CreateDocumentIndexCache creates a cache whose default attachment set is
// c. The cache owns a fresh document store of the given capacity in bytes.
func (c *ClusteredIndexables) CreateDocumentIndexCache(w Writer, capacity int, opts ...CacheOption) *DocumentIndexCache {
	cache := NewDocumentIndexCache(w, capacity, opts...)
	cache.scope = c
	return cache
}
