package docstore

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

func fixedDoc(i int) *indexer.Document {
	// Same size for every i < 10.
	return indexer.NewDocument(fmt.Sprintf("src/f%d.go", i)).
		Add("path", fmt.Sprintf("src/f%d.go", i), true, true).
		Add("content", "package f", false, true)
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	// Given: a store with documents
	s := New(1 << 20)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Add(fixedDoc(i)))
	}

	// When: clearing twice
	s.Clear()
	s.Clear()

	// Then: it is empty and the old documents never reappear
	assert.Equal(t, 0, s.Size())
	assert.True(t, s.IsEmpty())
	assert.Equal(t, 0, s.EstimatedBytes())
	for range s.All() {
		t.Fatal("iterator should be exhausted")
	}

	require.NoError(t, s.Add(fixedDoc(7)))
	docs := s.Documents()
	require.Len(t, docs, 1)
	assert.Equal(t, "src/f7.go", docs[0].PrimaryKey)
}

func TestStore_CapacitySignal(t *testing.T) {
	// Given: a capacity of exactly three fixed-size documents
	size := Estimate(fixedDoc(0))
	s := New(3 * size)

	// When/Then: only the third add crosses the capacity
	for i := 0; i < 2; i++ {
		flush, err := s.AddDocument(fixedDoc(i))
		require.NoError(t, err)
		assert.False(t, flush, "add %d", i)
	}
	flush, err := s.AddDocument(fixedDoc(2))
	require.NoError(t, err)
	assert.True(t, flush)

	// When: cleared, one more add does not signal
	s.Clear()
	flush, err = s.AddDocument(fixedDoc(3))
	require.NoError(t, err)
	assert.False(t, flush)
}

func TestStore_CapacitySignalWhenCrossingMidDocument(t *testing.T) {
	size := Estimate(fixedDoc(0))
	s := New(2*size + size/2)

	results := make([]bool, 0, 3)
	for i := 0; i < 3; i++ {
		flush, err := s.AddDocument(fixedDoc(i))
		require.NoError(t, err)
		results = append(results, flush)
	}

	assert.Equal(t, []bool{false, false, true}, results)
}

func TestStore_PreservesInsertionOrderAndFlags(t *testing.T) {
	s := New(1 << 20)
	in := []*indexer.Document{
		indexer.NewDocument("b").Add("x", "1", true, false),
		indexer.NewDocument("a").Add("y", "", false, true).Add("z", "zz", true, true),
		indexer.NewDocument("").Add("", "empty-name", false, false),
		indexer.NewDocument("c"),
	}
	require.NoError(t, s.AddAll(in))

	out := s.Documents()
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].PrimaryKey, out[i].PrimaryKey)
		assert.Equal(t, len(in[i].Fields), len(out[i].Fields))
		for j := range in[i].Fields {
			assert.Equal(t, in[i].Fields[j], out[i].Fields[j])
		}
	}
}

func TestStore_LargeAndBoundaryValuesRoundTrip(t *testing.T) {
	sizes := []int{
		BlockSize - 1,
		BlockSize,
		BlockSize + 1,
		2*BlockSize - len("k") - len("v"),
		10*BlockSize + 7,
		1 << 20,
	}

	for _, n := range sizes {
		t.Run(fmt.Sprintf("%d", n), func(t *testing.T) {
			// Given: a small document before and after the large one
			s := New(1 << 30)
			value := strings.Repeat("ab", n/2) + strings.Repeat("c", n%2)
			require.NoError(t, s.Add(indexer.NewDocument("before").Add("k", "v", true, true)))
			require.NoError(t, s.Add(indexer.NewDocument("big").Add("v", value, true, false)))
			require.NoError(t, s.Add(indexer.NewDocument("after").Add("k", "w", false, true)))

			// Then: all three round-trip exactly
			out := s.Documents()
			require.Len(t, out, 3)
			require.Len(t, out[1].Fields, 1)
			assert.Equal(t, n, len(out[1].Fields[0].Value))
			assert.True(t, out[1].Fields[0].Value == value)
			assert.Equal(t, "v", out[0].Fields[0].Value)
			assert.Equal(t, "w", out[2].Fields[0].Value)
		})
	}
}

func TestStore_AllocationFailureKeepsStoredDocuments(t *testing.T) {
	// Given: an allocator that fails on the second growth
	calls := 0
	failing := func(n int) ([]byte, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("out of memory")
		}
		return make([]byte, 0, n), nil
	}
	s := New(1<<30, WithAllocator(failing))
	require.NoError(t, s.Add(indexer.NewDocument("one").Add("v", "small", true, true)))
	require.NoError(t, s.Add(indexer.NewDocument("two").Add("v", "small", true, true)))

	// When: a document needing a new block is added
	flush, err := s.AddDocument(indexer.NewDocument("huge").Add("v", strings.Repeat("x", 3*BlockSize), true, true))

	// Then: the add fails, a flush is signalled, earlier documents are intact
	require.Error(t, err)
	assert.True(t, errors.Is(err, amerrors.ErrAllocationFailed))
	assert.True(t, flush)
	out := s.Documents()
	require.Len(t, out, 2)
	assert.Equal(t, "one", out[0].PrimaryKey)
	assert.Equal(t, "small", out[1].Fields[0].Value)

	// When: flushed and retried
	s.Clear()
	flush, err = s.AddDocument(indexer.NewDocument("huge").Add("v", strings.Repeat("x", 3*BlockSize), true, true))

	// Then: it succeeds
	require.NoError(t, err)
	assert.False(t, flush)
	assert.Equal(t, 1, s.Size())
}

func TestStore_MaxBufferActsAsAllocationLimit(t *testing.T) {
	s := New(1<<30, WithMaxBuffer(2*BlockSize))
	require.NoError(t, s.Add(indexer.NewDocument("a").Add("v", strings.Repeat("x", BlockSize), true, true)))

	flush, err := s.AddDocument(indexer.NewDocument("b").Add("v", strings.Repeat("y", BlockSize+10), true, true))

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeAllocationFailed, amerrors.GetCode(err))
	assert.True(t, flush)
	assert.Equal(t, 1, s.Size())
}

func TestStore_DefaultAllocatorRecoversPanics(t *testing.T) {
	_, err := makeBuffer(-1)
	assert.Error(t, err)
}

func TestStore_IteratorStopsEarly(t *testing.T) {
	s := New(1 << 20)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Add(fixedDoc(i)))
	}

	seen := 0
	for range s.All() {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}
