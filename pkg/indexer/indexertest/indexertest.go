// Package indexertest provides utilities for testing indexer factories
// without a scheduler.
package indexertest

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

// Context is an in-memory indexer.Context that records documents.
type Context struct {
	Ctx      context.Context
	RootKey  string
	Path     string
	Name     string
	AllFiles bool

	mu      sync.Mutex
	docs    []*indexer.Document
	removed []string
}

var _ indexer.Context = (*Context)(nil)

// NewContext returns a context for a pass over the directory root.
func NewContext(root, name string) *Context {
	return &Context{Ctx: context.Background(), RootKey: indexer.FileURL(root), Path: root, Name: name}
}

func (c *Context) Context() context.Context { return c.Ctx }
func (c *Context) Root() string             { return c.RootKey }
func (c *Context) RootPath() string         { return c.Path }
func (c *Context) IndexerName() string      { return c.Name }
func (c *Context) IsAllFilesIndexing() bool { return c.AllFiles }

// AddDocument records doc.
func (c *Context) AddDocument(doc *indexer.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, doc)
	return nil
}

// RemoveDocuments records keys.
func (c *Context) RemoveDocuments(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, keys...)
}

// Documents returns the recorded documents.
func (c *Context) Documents() []*indexer.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.docs)
}

// Removed returns the recorded removal keys.
func (c *Context) Removed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.removed)
}

// WriteFiles writes files below dir and returns them as indexables, in
// the order of rels. mimeOf assigns the mime types.
func WriteFiles(dir string, files map[string]string, mimeOf func(rel string) string, rels ...string) ([]indexer.Indexable, error) {
	out := make([]indexer.Indexable, 0, len(rels))
	for _, rel := range rels {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(p, []byte(files[rel]), 0o644); err != nil {
			return nil, err
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		out = append(out, indexer.Indexable{
			RelativePath: rel,
			MimeType:     mimeOf(rel),
			URL:          indexer.FileURL(p),
			Size:         info.Size(),
			ModTime:      info.ModTime(),
		})
	}
	return out, nil
}

// Seq yields items in order.
func Seq(items []indexer.Indexable) iter.Seq[indexer.Indexable] {
	return slices.Values(items)
}
