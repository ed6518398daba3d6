package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanidx/internal/logging"
)

func TestPool_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	pool, err := NewPool(2, logging.Discard())
	require.NoError(t, err)
	defer pool.CloseAll()

	// Given three handles and room for two open indices
	var handles []*Handle
	for _, name := range []string{"a", "b", "c"} {
		h := pool.Handle(filepath.Join(dir, name))
		require.NoError(t, h.Apply(ctx, &Batch{Add: []Document{textDoc(name, 0, "body")}}))
		handles = append(handles, h)
	}

	// Then only two stay open
	assert.Equal(t, 2, pool.Len())

	// And the evicted one reopens transparently
	n, err := handles[0].DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestPool_DestroyRemovesFiles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "idx")
	pool, err := NewPool(4, logging.Discard())
	require.NoError(t, err)
	defer pool.CloseAll()

	h := pool.Handle(path)
	require.NoError(t, h.Apply(ctx, &Batch{Add: []Document{textDoc("a", 0, "body")}}))

	require.NoError(t, pool.Destroy(path))
	assert.NoDirExists(t, path)
	assert.Zero(t, pool.Len())

	// A later write recreates an empty index
	n, err := h.DocCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPool_CloseAll(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	pool, err := NewPool(4, nil)
	require.NoError(t, err)

	for _, name := range []string{"a", "b"} {
		require.NoError(t, pool.Handle(filepath.Join(dir, name)).Apply(ctx, &Batch{Add: []Document{textDoc(name, 0, "x")}}))
	}

	require.NoError(t, pool.CloseAll())
	assert.Zero(t, pool.Len())
}
