package cluster

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

func files(specs ...string) []indexer.Indexable {
	// specs alternate path and mime
	var out []indexer.Indexable
	for i := 0; i+1 < len(specs); i += 2 {
		out = append(out, indexer.Indexable{RelativePath: specs[i], MimeType: specs[i+1]})
	}
	return out
}

func paths(seq func(func(indexer.Indexable) bool)) []string {
	var out []string
	for ix := range seq {
		out = append(out, ix.RelativePath)
	}
	return out
}

func TestClusteredIndexables_ViewsKeepOriginalOrder(t *testing.T) {
	// Given indexables of interleaved mime types
	ci := NewClusteredIndexables(slices.Values(files(
		"a.go", "text/x-go",
		"b.md", "text/markdown",
		"c.go", "text/x-go",
		"d.py", "text/x-python",
		"e.md", "text/markdown",
	)))

	// Then each view preserves the enumeration order
	assert.Equal(t, []string{"a.go", "b.md", "c.go", "d.py", "e.md"}, paths(ci.IndexablesFor("")))
	assert.Equal(t, []string{"a.go", "c.go"}, paths(ci.IndexablesFor("text/x-go")))
	assert.Equal(t, []string{"b.md", "d.py", "e.md"}, paths(ci.IndexablesForAny([]string{"text/markdown", "text/x-python"})))
	assert.Equal(t, []string{"a.go", "b.md", "c.go", "d.py", "e.md"}, paths(ci.IndexablesForAny([]string{indexer.MimeAny})))
	assert.Empty(t, paths(ci.IndexablesFor("image/png")))
	assert.Equal(t, []string{"text/x-go", "text/markdown", "text/x-python"}, ci.Mimes())
	assert.Equal(t, 5, ci.Len())
}

func TestClusteredIndexables_SequencesAreRestartable(t *testing.T) {
	calls := 0
	source := func(yield func(indexer.Indexable) bool) {
		calls++
		for _, ix := range files("a.go", "text/x-go", "b.go", "text/x-go") {
			if !yield(ix) {
				return
			}
		}
	}
	ci := NewClusteredIndexables(source)

	first := paths(ci.IndexablesFor("text/x-go"))
	second := paths(ci.IndexablesFor("text/x-go"))

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "source must be enumerated exactly once")
}

func TestClusteredIndexables_SubsetAndAllFiles(t *testing.T) {
	ci := FromSlice(files("a.go", "text/x-go", "b.md", "text/markdown"))

	sub := ci.Subset(func(ix indexer.Indexable) bool { return ix.MimeType == "text/markdown" })
	assert.Equal(t, []string{"b.md"}, sub.Keys())
	assert.False(t, sub.IsAllFiles())

	all := ci.AsAllFiles()
	assert.True(t, all.IsAllFiles())
	assert.False(t, ci.IsAllFiles())
	assert.Equal(t, ci.Keys(), all.Keys())
}

func TestNewClusteredIndexables_NilSequence(t *testing.T) {
	ci := NewClusteredIndexables(nil)
	assert.Zero(t, ci.Len())
	assert.Empty(t, ci.Mimes())
}
