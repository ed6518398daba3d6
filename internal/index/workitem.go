package index

import (
	"slices"
)

// WorkKind is the kind of a queued work item.
type WorkKind int

const (
	// FileList indexes the listed files of a root, or the whole root
	// incrementally when no files are listed.
	FileList WorkKind = iota
	// Delete removes the listed files of a root, or the root itself when
	// no files are listed.
	Delete
	// Scan rebuilds every index of a root.
	Scan
)

// String returns the name used in logs and metrics.
func (k WorkKind) String() string {
	switch k {
	case FileList:
		return "file_list"
	case Delete:
		return "delete"
	case Scan:
		return "scan"
	default:
		return "unknown"
	}
}

// WorkItem is a request for work on one root.
//
// Root is the root key. Files and Dirty hold paths relative to the root.
// The scheduler copies the item on Enqueue, so callers may reuse slices.
type WorkItem struct {
	Kind  WorkKind
	Root  string
	Files []string
	Dirty []string
}

// unit is one entry of the queue: a coalesced run of work items, or a
// barrier.
type unit struct {
	seq   uint64
	kind  WorkKind
	root  string
	whole bool
	files []string
	dirty []string
	items int

	barrier func()
	done    chan struct{}
	dropped bool
}

func newUnit(seq uint64, item WorkItem) *unit {
	u := &unit{
		seq:   seq,
		kind:  item.Kind,
		root:  item.Root,
		whole: item.Kind == Scan || len(item.Files) == 0,
		dirty: slices.Clone(item.Dirty),
		items: 1,
	}
	if !u.whole {
		u.files = slices.Clone(item.Files)
	}
	return u
}

func newBarrier(seq uint64, fn func()) *unit {
	return &unit{seq: seq, barrier: fn, done: make(chan struct{})}
}

func (u *unit) isBarrier() bool {
	return u.done != nil
}

func (u *unit) indexes() bool {
	return u.kind == FileList || u.kind == Scan
}

// absorbs reports whether item can be merged into u.
func (u *unit) absorbs(item WorkItem) bool {
	if u.isBarrier() || u.root != item.Root {
		return false
	}
	if item.Kind == Delete {
		return u.kind == Delete
	}
	return u.indexes()
}

func (u *unit) merge(item WorkItem) {
	u.items++
	u.dirty = union(u.dirty, item.Dirty)
	if item.Kind == Scan {
		u.kind = Scan
	}
	if u.whole {
		return
	}
	if item.Kind == Scan || len(item.Files) == 0 {
		u.whole = true
		u.files = nil
		return
	}
	u.files = union(u.files, item.Files)
}

func union(dst, src []string) []string {
	for _, s := range src {
		if !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

// queue holds pending units in enqueue order. It is not safe for
// concurrent use; the scheduler guards it with its mutex.
type queue struct {
	units []*unit
	seq   uint64
}

// push adds item and reports whether it was merged into a pending unit.
//
// An item merges into the last pending unit of the same root when both
// index, or when both delete. Units of other roots in between are
// skipped; a barrier stops the search.
func (q *queue) push(item WorkItem) bool {
	for i := len(q.units) - 1; i >= 0; i-- {
		u := q.units[i]
		if u.isBarrier() {
			break
		}
		if u.root != item.Root {
			continue
		}
		if !u.absorbs(item) {
			break
		}
		u.merge(item)
		return true
	}
	q.seq++
	q.units = append(q.units, newUnit(q.seq, item))
	return false
}

func (q *queue) pushBarrier(fn func()) *unit {
	q.seq++
	u := newBarrier(q.seq, fn)
	q.units = append(q.units, u)
	return u
}

func (q *queue) pop() *unit {
	if len(q.units) == 0 {
		return nil
	}
	u := q.units[0]
	q.units[0] = nil
	q.units = q.units[1:]
	return u
}

func (q *queue) len() int {
	return len(q.units)
}

// drain removes and returns every pending unit.
func (q *queue) drain() []*unit {
	units := q.units
	q.units = nil
	return units
}
