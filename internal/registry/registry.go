// Package registry knows the indexed roots, the registered indexer
// factories and where their indices live.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/internal/scanner"
	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

// RootKind distinguishes source directories from archives.
type RootKind int

const (
	// RootSource is a directory of source files.
	RootSource RootKind = iota
	// RootBinary is a zip or jar archive.
	RootBinary
)

func (k RootKind) String() string {
	if k == RootBinary {
		return "binary"
	}
	return "source"
}

// Root is an indexed directory or archive.
type Root struct {
	// Key is the file:// URL of the root.
	Key  string
	Path string
	Kind RootKind
}

// RootKey returns the key of the root at path.
func RootKey(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return indexer.FileURL(filepath.Clean(abs)), nil
}

// Registry holds roots and factories.
type Registry struct {
	scanner *scanner.Scanner
	cache   *CacheFolder
	roots   *xsync.MapOf[string, Root]

	mu        sync.RWMutex
	factories []indexer.Factory
}

// New creates a registry. Factories are kept sorted by name; names must be
// unique.
func New(sc *scanner.Scanner, cache *CacheFolder, factories ...indexer.Factory) (*Registry, error) {
	r := &Registry{
		scanner: sc,
		cache:   cache,
		roots:   xsync.NewMapOf[string, Root](),
	}
	for _, f := range factories {
		if err := r.AddFactory(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// AddFactory registers f.
func (r *Registry) AddFactory(f indexer.Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.factories {
		if existing.Name() == f.Name() {
			return amerrors.ValidationError(fmt.Sprintf("indexer %q registered twice", f.Name()), nil)
		}
	}
	r.factories = append(r.factories, f)
	sort.Slice(r.factories, func(i, j int) bool { return r.factories[i].Name() < r.factories[j].Name() })
	return nil
}

// Factories returns every factory sorted by name.
func (r *Registry) Factories() []indexer.Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.factories)
}

// FactoriesFor returns the factories handling at least one of mimes,
// sorted by name.
func (r *Registry) FactoriesFor(mimes []string) []indexer.Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []indexer.Factory
	for _, f := range r.factories {
		for _, m := range mimes {
			if indexer.Handles(f, m) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// AddRoot registers the directory or archive at path.
func (r *Registry) AddRoot(path string) (Root, error) {
	key, err := RootKey(path)
	if err != nil {
		return Root{}, amerrors.New(amerrors.ErrCodeInvalidPath, "invalid root path "+path, err)
	}
	abs, _ := indexer.PathFromURL(key)

	info, err := os.Stat(abs)
	if err != nil {
		return Root{}, amerrors.New(amerrors.ErrCodeFileNotFound, "root not found: "+abs, err)
	}
	root := Root{Key: key, Path: abs, Kind: RootSource}
	switch {
	case info.IsDir():
	case scanner.IsArchive(abs):
		root.Kind = RootBinary
	default:
		return Root{}, amerrors.New(amerrors.ErrCodeInvalidPath, "root must be a directory or a zip/jar archive: "+abs, nil)
	}

	if r.cache != nil {
		if err := r.cache.Remember(key); err != nil {
			return Root{}, err
		}
	}
	r.roots.Store(key, root)
	return root, nil
}

// RemoveRoot unregisters a root.
func (r *Registry) RemoveRoot(key string) (Root, bool) {
	return r.roots.LoadAndDelete(key)
}

// Root returns the root with key.
func (r *Registry) Root(key string) (Root, bool) {
	return r.roots.Load(key)
}

// Roots returns every root sorted by key.
func (r *Registry) Roots() []Root {
	var out []Root
	r.roots.Range(func(_ string, root Root) bool {
		out = append(out, root)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Resolve finds the innermost source root containing path and returns it
// with the slash-separated path relative to it.
func (r *Registry) Resolve(path string) (Root, string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Root{}, "", false
	}
	var best Root
	var rel string
	found := false
	r.roots.Range(func(_ string, root Root) bool {
		if root.Kind == RootBinary {
			if abs == root.Path && (!found || len(root.Path) > len(best.Path)) {
				best, rel, found = root, "", true
			}
			return true
		}
		rp, err := filepath.Rel(root.Path, abs)
		if err != nil || rp == ".." || strings.HasPrefix(rp, ".."+string(filepath.Separator)) {
			return true
		}
		if !found || len(root.Path) > len(best.Path) {
			best, rel, found = root, filepath.ToSlash(rp), true
		}
		return true
	})
	return best, rel, found
}

// Enumerate lists the indexables of root.
func (r *Registry) Enumerate(ctx context.Context, root Root) ([]indexer.Indexable, error) {
	if root.Kind == RootBinary {
		return r.scanner.EnumerateArchive(ctx, root.Path)
	}
	return r.scanner.Enumerate(ctx, root.Path)
}

// Lookup resolves relative paths of a source root.
func (r *Registry) Lookup(root Root, rels []string) ([]indexer.Indexable, []string) {
	return r.scanner.Lookup(root.Path, rels)
}

// Stub returns an indexable standing for a deleted file.
func (r *Registry) Stub(root Root, rel string) indexer.Indexable {
	return r.scanner.Stub(root.Path, rel)
}

// IndexDir returns the index directory of f for root.
func (r *Registry) IndexDir(root Root, f indexer.Factory) string {
	return r.cache.IndexDir(root.Key, f)
}

// Forget deletes the cached indices of a root. The root does not need to
// be registered.
func (r *Registry) Forget(key string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Forget(key)
}

// InvalidateGitignore drops the scanner's cached .gitignore matchers.
func (r *Registry) InvalidateGitignore() {
	r.scanner.InvalidateGitignoreCache()
}

// Cache returns the cache folder.
func (r *Registry) Cache() *CacheFolder {
	return r.cache
}

// Scanner returns the scanner.
func (r *Registry) Scanner() *scanner.Scanner {
	return r.scanner
}
