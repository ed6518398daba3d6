package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/Aman-CERP/amanidx/internal/index"
	"github.com/Aman-CERP/amanidx/internal/registry"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted.
	OpDelete
	// OpRename indicates a file or directory was renamed away.
	OpRename
	// OpGitignoreChange indicates a .gitignore file changed. The whole
	// root is re-listed so newly ignored files are pruned and newly
	// unignored ones are picked up.
	OpGitignoreChange
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpGitignoreChange:
		return "GITIGNORE_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a change below a watched root.
type FileEvent struct {
	// Root is the key of the root the path belongs to.
	Root string

	// Path is slash-separated and relative to the root. It is empty when
	// the root itself changed, as when an archive is rewritten.
	Path string

	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Resolver maps absolute paths to registered roots.
type Resolver interface {
	Resolve(path string) (registry.Root, string, bool)
	InvalidateGitignore()
}

// Sink receives the work derived from file events.
type Sink interface {
	Enqueue(item index.WorkItem)
}

// Updater is implemented by sinks that can index a single changed file
// right away, ahead of the queued work for it.
type Updater interface {
	Update(ctx context.Context, root string, files []string) error
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the time to wait before emitting coalesced events.
	// Default: 200ms
	DebounceWindow time.Duration

	// PollInterval is the interval for polling mode (fallback).
	// Default: 5s
	PollInterval time.Duration

	// IgnorePatterns are additional patterns to ignore beyond .gitignore.
	// Patterns use gitignore syntax.
	IgnorePatterns []string

	// ForcePolling skips fsnotify, for file systems that do not deliver
	// notifications (network mounts, some container volumes).
	ForcePolling bool

	// QueueOnly disables direct updates of single-file changes when the
	// sink is an Updater; every change then waits for the queue.
	QueueOnly bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 200 * time.Millisecond,
		PollInterval:   5 * time.Second,
	}
}

// Validate rejects negative durations.
func (o Options) Validate() error {
	if o.DebounceWindow < 0 {
		return fmt.Errorf("debounce window must not be negative, got %s", o.DebounceWindow)
	}
	if o.PollInterval < 0 {
		return fmt.Errorf("poll interval must not be negative, got %s", o.PollInterval)
	}
	return nil
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	return o
}

// WorkItems turns a debounced batch into scheduler work. Batches are
// grouped per root in order of first appearance. A root whose batch
// touches a directory, a .gitignore or the root itself is re-listed as a
// whole; otherwise removed paths become one Delete item, followed by one
// FileList item for created and modified paths.
func WorkItems(events []FileEvent) []index.WorkItem {
	type group struct {
		whole   bool
		deleted []string
		changed []string
	}
	var order []string
	groups := make(map[string]*group)
	for _, ev := range events {
		g, ok := groups[ev.Root]
		if !ok {
			g = &group{}
			groups[ev.Root] = g
			order = append(order, ev.Root)
		}
		switch {
		case ev.Path == "" || ev.IsDir || ev.Operation == OpGitignoreChange:
			g.whole = true
		case ev.Operation == OpDelete || ev.Operation == OpRename:
			g.deleted = append(g.deleted, ev.Path)
		default:
			g.changed = append(g.changed, ev.Path)
		}
	}

	var items []index.WorkItem
	for _, root := range order {
		g := groups[root]
		if g.whole {
			items = append(items, index.WorkItem{Kind: index.FileList, Root: root})
			continue
		}
		if len(g.deleted) > 0 {
			items = append(items, index.WorkItem{Kind: index.Delete, Root: root, Files: g.deleted})
		}
		if len(g.changed) > 0 {
			items = append(items, index.WorkItem{Kind: index.FileList, Root: root, Files: g.changed})
		}
	}
	return items
}
