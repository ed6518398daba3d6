package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/amanidx/internal/registry"
)

// poller detects changes below one root by comparing directory
// snapshots. It is the fallback when fsnotify is unavailable.
type poller struct {
	root   registry.Root
	ignore func(rel string, isDir bool) bool
	state  map[string]fileSnapshot
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

func newPoller(root registry.Root, ignore func(rel string, isDir bool) bool) *poller {
	p := &poller{root: root, ignore: ignore}
	p.state = p.snapshot()
	return p
}

// snapshot records the state of every file of the root. An archive root
// is a single entry under the empty path.
func (p *poller) snapshot() map[string]fileSnapshot {
	state := make(map[string]fileSnapshot)
	if p.root.Kind == registry.RootBinary {
		if info, err := os.Stat(p.root.Path); err == nil {
			state[""] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		}
		return state
	}

	_ = filepath.WalkDir(p.root.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		rel, err := filepath.Rel(p.root.Path, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if p.ignore(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		state[rel] = fileSnapshot{modTime: info.ModTime(), size: info.Size(), isDir: d.IsDir()}
		return nil
	})
	return state
}

// detect compares the current state with the previous one and reports
// every difference to emit.
func (p *poller) detect(emit func(FileEvent)) {
	current := p.snapshot()
	now := time.Now()

	for rel, snap := range current {
		prev, exists := p.state[rel]
		switch {
		case !exists:
			emit(FileEvent{Root: p.root.Key, Path: rel, Operation: OpCreate, IsDir: snap.isDir, Timestamp: now})
		case snap.isDir:
			// Directory mtimes change with their entries, which are
			// reported on their own.
		case prev.modTime != snap.modTime || prev.size != snap.size:
			emit(FileEvent{Root: p.root.Key, Path: rel, Operation: OpModify, Timestamp: now})
		}
	}
	for rel, snap := range p.state {
		if _, exists := current[rel]; !exists {
			emit(FileEvent{Root: p.root.Key, Path: rel, Operation: OpDelete, IsDir: snap.isDir, Timestamp: now})
		}
	}

	p.state = current
}
