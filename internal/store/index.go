// Package store persists documents in one bleve index per (root, indexer).
//
// Indices are validated when opened. Unlike a search cache, a damaged
// index is never cleared here: Open reports ERR_205_CORRUPT_INDEX and the
// scheduler decides how to rebuild it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
)

const (
	metaFile = "index_meta.json"

	// pageSize bounds every search used for bookkeeping.
	pageSize = 1000
	// keysPerQuery bounds the disjunction used to find documents by key.
	keysPerQuery = 256
)

// Index is an open bleve index.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// validateIndexIntegrity checks the on-disk metadata before bleve sees it.
// A missing directory is valid: the index will be created.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, metaFile)
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s missing", metaFile)
	}
	if err != nil {
		return fmt.Errorf("cannot stat %s: %w", metaFile, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", metaFile)
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", metaFile, err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("%s is not valid JSON: %w", metaFile, err)
	}
	return nil
}

// isCorruptionError reports whether a bleve open error means damaged files.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, bleve.ErrorIndexMetaCorrupt) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt") ||
		strings.Contains(msg, "invalid database")
}

// Open opens the index at path, creating it if the directory does not exist.
func Open(path string) (*Index, error) {
	if err := validateIndexIntegrity(path); err != nil {
		return nil, amerrors.CorruptIndexError(path, err)
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeFilePermission, "failed to create index directory", err)
		}
		var m *mapping.IndexMappingImpl
		if m, err = newMapping(); err == nil {
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		if isCorruptionError(err) {
			return nil, amerrors.CorruptIndexError(path, err)
		}
		return nil, amerrors.New(amerrors.ErrCodeIndexFailed, "failed to open index "+path, err)
	}
	return &Index{index: idx, path: path}, nil
}

// OpenReadOnly opens an existing index without taking the writer lock,
// so it can be inspected while another process indexes.
func OpenReadOnly(path string) (*Index, error) {
	if err := validateIndexIntegrity(path); err != nil {
		return nil, amerrors.CorruptIndexError(path, err)
	}
	// A writer in another process holds the bolt lock; give up instead of
	// blocking.
	idx, err := bleve.OpenUsing(path, map[string]interface{}{
		"read_only":    true,
		"bolt_timeout": "1s",
	})
	if err != nil {
		if isCorruptionError(err) {
			return nil, amerrors.CorruptIndexError(path, err)
		}
		return nil, amerrors.New(amerrors.ErrCodeIndexFailed, "failed to open index "+path, err)
	}
	return &Index{index: idx, path: path}, nil
}

// OpenMem creates an in-memory index.
func OpenMem() (*Index, error) {
	m, err := newMapping()
	if err != nil {
		return nil, err
	}
	idx, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, err
	}
	return &Index{index: idx}, nil
}

func newMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(CodeAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     CodeTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add code analyzer: %w", err)
	}
	m.DefaultAnalyzer = CodeAnalyzerName
	m.StoreDynamic = false
	m.DocValuesDynamic = false

	pk := bleve.NewKeywordFieldMapping()
	pk.Store = true
	m.DefaultMapping.AddFieldMappingsAt(FieldPrimaryKey, pk)

	stored := bleve.NewTextFieldMapping()
	stored.Index = false
	stored.Store = true
	stored.IncludeInAll = false
	stored.IncludeTermVectors = false
	m.DefaultMapping.AddFieldMappingsAt(FieldStored, stored)

	return m, nil
}

// Path returns the index directory, empty for in-memory indices.
func (x *Index) Path() string {
	return x.path
}

// Apply executes b as one bleve batch: removals first, then additions.
// Readers see either the state before or after the batch.
func (x *Index) Apply(ctx context.Context, b *Batch) error {
	if b.Empty() {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return fmt.Errorf("index %s is closed", x.path)
	}

	var drop []string
	var err error
	if b.Reset {
		drop, err = x.collectIDs(ctx, bleve.NewMatchAllQuery())
	} else {
		drop, err = x.idsForKeys(ctx, b.Remove)
	}
	if err != nil {
		return err
	}

	batch := x.index.NewBatch()
	for _, id := range drop {
		batch.Delete(id)
	}
	for _, doc := range b.Add {
		if err := batch.Index(doc.ID, doc.Fields); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := x.index.Batch(batch); err != nil {
		return amerrors.New(amerrors.ErrCodeIndexFailed, "failed to apply batch to "+x.path, err)
	}
	return nil
}

func (x *Index) idsForKeys(ctx context.Context, keys []string) ([]string, error) {
	var ids []string
	for start := 0; start < len(keys); start += keysPerQuery {
		chunk := keys[start:min(start+keysPerQuery, len(keys))]
		terms := make([]query.Query, 0, len(chunk))
		for _, key := range chunk {
			q := bleve.NewTermQuery(key)
			q.SetField(FieldPrimaryKey)
			terms = append(terms, q)
		}
		found, err := x.collectIDs(ctx, bleve.NewDisjunctionQuery(terms...))
		if err != nil {
			return nil, err
		}
		ids = append(ids, found...)
	}
	return ids, nil
}

func (x *Index) collectIDs(ctx context.Context, q query.Query) ([]string, error) {
	var ids []string
	err := x.scan(ctx, q, nil, func(id string, _ map[string]interface{}) {
		ids = append(ids, id)
	})
	return ids, err
}

// scan pages through every hit of q in ID order.
func (x *Index) scan(ctx context.Context, q query.Query, fields []string, fn func(id string, fields map[string]interface{})) error {
	for from := 0; ; from += pageSize {
		req := bleve.NewSearchRequestOptions(q, pageSize, from, false)
		req.Fields = fields
		req.SortBy([]string{"_id"})
		res, err := x.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("index search failed: %w", err)
		}
		for _, hit := range res.Hits {
			fn(hit.ID, hit.Fields)
		}
		if len(res.Hits) < pageSize {
			return nil
		}
	}
}

// DocCount returns the number of documents.
func (x *Index) DocCount() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return 0, fmt.Errorf("index %s is closed", x.path)
	}
	return x.index.DocCount()
}

// PrimaryKeys returns the distinct primary keys in the index, sorted.
func (x *Index) PrimaryKeys(ctx context.Context) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, fmt.Errorf("index %s is closed", x.path)
	}

	seen := make(map[string]bool)
	var keys []string
	err := x.scan(ctx, bleve.NewMatchAllQuery(), []string{FieldPrimaryKey}, func(_ string, fields map[string]interface{}) {
		if pk, ok := fields[FieldPrimaryKey].(string); ok && !seen[pk] {
			seen[pk] = true
			keys = append(keys, pk)
		}
	})
	return keys, err
}

// Count returns how many documents match the analyzed text in field.
func (x *Index) Count(ctx context.Context, field, text string) (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return 0, fmt.Errorf("index %s is closed", x.path)
	}
	q := bleve.NewMatchQuery(text)
	q.SetField(field)
	req := bleve.NewSearchRequestOptions(q, 0, 0, false)
	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// Close closes the index. Safe to call more than once.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	return x.index.Close()
}

// Remove deletes the index directory at path.
func Remove(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return amerrors.New(amerrors.ErrCodeFilePermission, "failed to remove index "+path, err)
	}
	return nil
}
