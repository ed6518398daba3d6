// Package docstore holds produced documents in a bounded, packed buffer
// until they are flushed into the persistent index.
//
// All strings of all documents live in one byte arena; documents and
// fields are small fixed-size records pointing into it. The estimated size
// that drives the flush signal is computed from the logical content so it
// is independent of how the arena happens to grow.
package docstore

import (
	"fmt"
	"iter"

	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

const (
	// BlockSize is the arena growth granularity.
	BlockSize = 4096

	// Fixed per-record costs added to the estimate.
	docOverhead   = 48
	fieldOverhead = 24
)

const (
	flagStored uint8 = 1 << iota
	flagIndexed
)

// Allocator returns a zero-length buffer with at least n bytes capacity.
type Allocator func(n int) ([]byte, error)

type span struct {
	off, n int
}

type fieldRef struct {
	name, value span
	flags       uint8
}

type docRef struct {
	key          span
	first, count int
}

// Store is a size-bounded collection of documents.
// It is not safe for concurrent use; the producing worker owns it.
type Store struct {
	capacity  int
	maxBuffer int
	alloc     Allocator

	arena  []byte
	docs   []docRef
	fields []fieldRef
	size   int
}

// Option configures a Store.
type Option func(*Store)

// WithAllocator replaces the arena allocator.
func WithAllocator(a Allocator) Option {
	return func(s *Store) {
		s.alloc = a
	}
}

// WithMaxBuffer caps the arena. Growing past it fails like an allocation
// failure. Zero means no cap.
func WithMaxBuffer(n int) Option {
	return func(s *Store) {
		s.maxBuffer = n
	}
}

// New creates a store that signals a flush once its estimated size
// reaches capacity bytes.
func New(capacity int, opts ...Option) *Store {
	s := &Store{
		capacity: capacity,
		alloc:    makeBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// makeBuffer converts an allocation panic (e.g. an impossible length)
// into an error.
func makeBuffer(n int) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("allocation panicked: %v", r)
		}
	}()
	return make([]byte, 0, n), nil
}

// Estimate returns the number of bytes doc accounts for in a store.
func Estimate(doc *indexer.Document) int {
	n := docOverhead + len(doc.PrimaryKey)
	for _, f := range doc.Fields {
		n += fieldOverhead + len(f.Name) + len(f.Value)
	}
	return n
}

// Add appends doc.
func (s *Store) Add(doc *indexer.Document) error {
	_, err := s.AddDocument(doc)
	return err
}

// AddAll appends docs in order, stopping at the first failure.
func (s *Store) AddAll(docs []*indexer.Document) error {
	for _, doc := range docs {
		if err := s.Add(doc); err != nil {
			return err
		}
	}
	return nil
}

// AddDocument appends doc and reports whether the store should be flushed.
//
// When the arena cannot grow, doc is not stored, the previously stored
// documents are untouched, and AddDocument returns true together with an
// ERR_303_ALLOCATION_FAILED error so the caller flushes what it has.
func (s *Store) AddDocument(doc *indexer.Document) (bool, error) {
	need := len(doc.PrimaryKey)
	for _, f := range doc.Fields {
		need += len(f.Name) + len(f.Value)
	}
	if err := s.reserve(need); err != nil {
		return true, err
	}

	ref := docRef{key: s.put(doc.PrimaryKey), first: len(s.fields), count: len(doc.Fields)}
	for _, f := range doc.Fields {
		var flags uint8
		if f.Stored {
			flags |= flagStored
		}
		if f.Indexed {
			flags |= flagIndexed
		}
		s.fields = append(s.fields, fieldRef{name: s.put(f.Name), value: s.put(f.Value), flags: flags})
	}
	s.docs = append(s.docs, ref)
	s.size += Estimate(doc)

	return s.size >= s.capacity, nil
}

// reserve makes room for need more arena bytes without moving any
// existing content on failure.
func (s *Store) reserve(need int) error {
	used := len(s.arena)
	if used+need <= cap(s.arena) {
		return nil
	}

	want := roundUp(used+need, BlockSize)
	if grown := 2 * cap(s.arena); grown > want {
		want = grown
	}
	if s.maxBuffer > 0 && want > s.maxBuffer {
		if used+need > s.maxBuffer {
			return amerrors.AllocationError(used+need, fmt.Errorf("buffer limit of %d bytes reached", s.maxBuffer))
		}
		want = s.maxBuffer
	}

	buf, err := s.alloc(want)
	if err == nil && cap(buf) < used+need {
		err = fmt.Errorf("allocator returned %d bytes, need %d", cap(buf), used+need)
	}
	if err != nil {
		return amerrors.AllocationError(want, err)
	}
	s.arena = append(buf[:0], s.arena...)
	return nil
}

// put copies str into the arena. Capacity must already be reserved.
func (s *Store) put(str string) span {
	off := len(s.arena)
	s.arena = append(s.arena, str...)
	return span{off: off, n: len(str)}
}

func (s *Store) str(sp span) string {
	return string(s.arena[sp.off : sp.off+sp.n])
}

// Clear empties the store. The arena is kept for reuse unless it grew far
// beyond the capacity.
func (s *Store) Clear() {
	if cap(s.arena) > 2*max(s.capacity, BlockSize) {
		s.arena = nil
	} else {
		s.arena = s.arena[:0]
	}
	s.docs = s.docs[:0]
	s.fields = s.fields[:0]
	s.size = 0
}

// Size returns the number of stored documents.
func (s *Store) Size() int {
	return len(s.docs)
}

// IsEmpty reports whether the store holds no documents.
func (s *Store) IsEmpty() bool {
	return len(s.docs) == 0
}

// EstimatedBytes returns the current size estimate.
func (s *Store) EstimatedBytes() int {
	return s.size
}

// Capacity returns the flush threshold in bytes.
func (s *Store) Capacity() int {
	return s.capacity
}

// All yields copies of the stored documents in insertion order.
func (s *Store) All() iter.Seq[*indexer.Document] {
	return func(yield func(*indexer.Document) bool) {
		n := len(s.docs)
		for i := 0; i < n && i < len(s.docs); i++ {
			if !yield(s.document(i)) {
				return
			}
		}
	}
}

// Documents returns copies of the stored documents in insertion order.
func (s *Store) Documents() []*indexer.Document {
	out := make([]*indexer.Document, 0, len(s.docs))
	for doc := range s.All() {
		out = append(out, doc)
	}
	return out
}

func (s *Store) document(i int) *indexer.Document {
	ref := s.docs[i]
	doc := &indexer.Document{
		PrimaryKey: s.str(ref.key),
		Fields:     make([]indexer.Field, ref.count),
	}
	for j := range ref.count {
		f := s.fields[ref.first+j]
		doc.Fields[j] = indexer.Field{
			Name:    s.str(f.name),
			Value:   s.str(f.value),
			Stored:  f.flags&flagStored != 0,
			Indexed: f.flags&flagIndexed != 0,
		}
	}
	return doc
}

func roundUp(n, block int) int {
	return (n + block - 1) / block * block
}
