package integration

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanidx/internal/index"
	"github.com/Aman-CERP/amanidx/internal/indexers"
	"github.com/Aman-CERP/amanidx/internal/indexers/symbols"
	"github.com/Aman-CERP/amanidx/internal/logging"
	"github.com/Aman-CERP/amanidx/internal/registry"
	"github.com/Aman-CERP/amanidx/internal/scanner"
	"github.com/Aman-CERP/amanidx/internal/store"
	"github.com/Aman-CERP/amanidx/internal/timestamps"
	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

// pipeline is the full indexing stack on a temporary cache folder.
type pipeline struct {
	reg       *registry.Registry
	ts        *timestamps.TimeStamps
	pool      *store.Pool
	sched     *index.Scheduler
	factories map[string]indexer.Factory
}

func newPipeline(t *testing.T, backend string) *pipeline {
	t.Helper()
	logger := logging.Discard()

	sc, err := scanner.New(scanner.Options{RespectGitignore: true}, logger)
	require.NoError(t, err)
	factories, err := indexers.Builtin(indexers.Names(), logger)
	require.NoError(t, err)
	cache, err := registry.OpenCacheFolder(t.TempDir())
	require.NoError(t, err)
	reg, err := registry.New(sc, cache, factories...)
	require.NoError(t, err)

	b, err := timestamps.NewBackend(backend, cache.Dir(), logger)
	require.NoError(t, err)
	ts, err := timestamps.Open(b, timestamps.WithLogger(logger), timestamps.WithSaveDelay(10*time.Millisecond))
	require.NoError(t, err)
	pool, err := store.NewPool(4, logger)
	require.NoError(t, err)

	sched := index.New(reg,
		index.WithTimeStamps(ts),
		index.WithPool(pool),
		index.WithLogger(logger))
	sched.Start(context.Background())

	t.Cleanup(func() {
		assert.NoError(t, sched.Close())
		assert.NoError(t, ts.Close())
		assert.NoError(t, pool.CloseAll())
		assert.NoError(t, cache.Close())
	})

	p := &pipeline{reg: reg, ts: ts, pool: pool, sched: sched, factories: make(map[string]indexer.Factory)}
	for _, f := range factories {
		p.factories[f.Name()] = f
	}
	return p
}

func (p *pipeline) run(t *testing.T, item index.WorkItem) {
	t.Helper()
	p.sched.Enqueue(item)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, p.sched.WaitSilent(ctx))
}

// count returns how many documents of an indexer match text in field.
func (p *pipeline) count(t *testing.T, root registry.Root, name, field, text string) uint64 {
	t.Helper()
	var n uint64
	require.NoError(t, p.pool.With(p.reg.IndexDir(root, p.factories[name]), func(idx *store.Index) error {
		var err error
		n, err = idx.Count(context.Background(), field, text)
		return err
	}))
	return n
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func writeJar(t *testing.T, path string, files map[string]string, mod time.Time) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestPipeline_IndexThenDelete(t *testing.T) {
	for _, backend := range []string{timestamps.BackendSQLite, timestamps.BackendPebble} {
		t.Run(backend, func(t *testing.T) {
			// Given: a project with code, docs and an ignored file
			p := newPipeline(t, backend)
			dir := t.TempDir()
			writeFiles(t, dir, map[string]string{
				".gitignore":   "build/\n",
				"greet.go":     "package demo\n\n// greet says hello.\nfunc greet() string { return \"hello\" }\n",
				"notes.md":     "alpha beta\n",
				"build/gen.go": "package build\n\nfunc generated() {}\n",
			})
			root, err := p.reg.AddRoot(dir)
			require.NoError(t, err)

			// When: the root is indexed
			p.run(t, index.WorkItem{Kind: index.FileList, Root: root.Key})

			// Then: both indexers hold the files, ignored ones excluded
			assert.Equal(t, uint64(1), p.count(t, root, indexers.TextName, indexers.FieldContent, "alpha"))
			assert.Equal(t, uint64(1), p.count(t, root, symbols.Name, symbols.FieldName, "greet"))
			assert.Equal(t, uint64(0), p.count(t, root, symbols.Name, symbols.FieldName, "generated"))

			st, ok := p.ts.GetLastModified(root.Key)
			require.True(t, ok)
			assert.True(t, st.Has(timestamps.IndexerID{Name: indexers.TextName, Version: 1}))
			assert.True(t, st.Has(timestamps.IndexerID{Name: symbols.Name, Version: 2}))

			// When: a file is deleted
			require.NoError(t, os.Remove(filepath.Join(dir, "greet.go")))
			p.run(t, index.WorkItem{Kind: index.Delete, Root: root.Key, Files: []string{"greet.go"}})

			// Then: its documents are gone from every index
			assert.Equal(t, uint64(0), p.count(t, root, symbols.Name, symbols.FieldName, "greet"))
			assert.Equal(t, uint64(0), p.count(t, root, indexers.TextName, indexers.FieldContent, "hello"))
			assert.Equal(t, uint64(1), p.count(t, root, indexers.TextName, indexers.FieldContent, "beta"))
		})
	}
}

func TestPipeline_ChangedFileReplacesDocuments(t *testing.T) {
	// Given: an indexed file
	p := newPipeline(t, timestamps.BackendSQLite)
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.go": "package a\n\nfunc first() {}\n"})
	root, err := p.reg.AddRoot(dir)
	require.NoError(t, err)
	p.run(t, index.WorkItem{Kind: index.FileList, Root: root.Key})

	// When: the file changes and is listed again
	writeFiles(t, dir, map[string]string{"a.go": "package a\n\nfunc second() {}\n"})
	p.run(t, index.WorkItem{Kind: index.FileList, Root: root.Key, Files: []string{"a.go"}})

	// Then: only the new symbol remains
	assert.Equal(t, uint64(0), p.count(t, root, symbols.Name, symbols.FieldName, "first"))
	assert.Equal(t, uint64(1), p.count(t, root, symbols.Name, symbols.FieldName, "second"))
}

func TestPipeline_ArchiveReindexedOnlyWhenRewritten(t *testing.T) {
	// Given: an indexed archive
	p := newPipeline(t, timestamps.BackendSQLite)
	jar := filepath.Join(t.TempDir(), "lib.jar")
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeJar(t, jar, map[string]string{"lib/a.go": "package lib\n\nfunc oldest() {}\n"}, old)
	root, err := p.reg.AddRoot(jar)
	require.NoError(t, err)
	p.run(t, index.WorkItem{Kind: index.FileList, Root: root.Key})
	require.Equal(t, uint64(1), p.count(t, root, symbols.Name, symbols.FieldName, "oldest"))
	first, ok := p.ts.GetLastModified(root.Key)
	require.True(t, ok)

	// When: the unchanged archive is queued again
	p.run(t, index.WorkItem{Kind: index.FileList, Root: root.Key})

	// Then: the recorded state is unchanged
	again, _ := p.ts.GetLastModified(root.Key)
	assert.Equal(t, first.Versions, again.Versions)

	// When: the archive is rewritten
	writeJar(t, jar, map[string]string{"lib/a.go": "package lib\n\nfunc newest() {}\n"}, time.Now().Truncate(time.Second))
	p.run(t, index.WorkItem{Kind: index.FileList, Root: root.Key})

	// Then: its contents are replaced
	assert.Equal(t, uint64(0), p.count(t, root, symbols.Name, symbols.FieldName, "oldest"))
	assert.Equal(t, uint64(1), p.count(t, root, symbols.Name, symbols.FieldName, "newest"))
}

func TestPipeline_RemovedRootForgetsIndices(t *testing.T) {
	// Given: an indexed root
	p := newPipeline(t, timestamps.BackendSQLite)
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.md": "gamma\n"})
	root, err := p.reg.AddRoot(dir)
	require.NoError(t, err)
	p.run(t, index.WorkItem{Kind: index.FileList, Root: root.Key})
	indexDir := p.reg.IndexDir(root, p.factories[indexers.TextName])
	require.DirExists(t, indexDir)

	// When: the root is unregistered and deleted
	p.reg.RemoveRoot(root.Key)
	p.run(t, index.WorkItem{Kind: index.Delete, Root: root.Key})

	// Then: its indices and state are gone
	assert.NoDirExists(t, indexDir)
	_, ok := p.ts.GetLastModified(root.Key)
	assert.False(t, ok)
}
