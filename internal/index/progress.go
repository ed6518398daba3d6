package index

import (
	"sync"
	"time"

	"github.com/Aman-CERP/amanidx/internal/cluster"
)

// Status is the overall scheduler state reported by Progress.
type Status string

const (
	// StatusIdle indicates no unit is running.
	StatusIdle Status = "idle"
	// StatusIndexing indicates a unit is running.
	StatusIndexing Status = "indexing"
	// StatusError indicates the last unit had a failed pass.
	StatusError Status = "error"
)

// ProgressSnapshot is an immutable copy of Progress.
type ProgressSnapshot struct {
	Status          string  `json:"status"`
	Root            string  `json:"root,omitempty"`
	Indexer         string  `json:"indexer,omitempty"`
	UnitsDone       int     `json:"units_done"`
	PassesTotal     int     `json:"passes_total"`
	PassesDegraded  int     `json:"passes_degraded"`
	Recoveries      int     `json:"recoveries"`
	FilesQueued     int     `json:"files_queued"`
	DocumentsStored int     `json:"documents_stored"`
	BytesFlushed    int     `json:"bytes_flushed"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	LastError       string  `json:"last_error,omitempty"`
}

// Progress aggregates scheduler events and cache flushes into counters a
// renderer can poll. It is safe for concurrent use.
type Progress struct {
	mu sync.RWMutex

	status         Status
	root           string
	indexer        string
	unitsDone      int
	passesTotal    int
	passesDegraded int
	recoveries     int
	filesQueued    int
	documents      int
	bytes          int
	startTime      time.Time
	lastError      string
}

// NewProgress creates an idle progress tracker.
func NewProgress() *Progress {
	return &Progress{
		status:    StatusIdle,
		startTime: time.Now(),
	}
}

// Observe updates the counters from a scheduler event.
func (p *Progress) Observe(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case EventUnitStarted:
		p.status = StatusIndexing
		p.root = e.Root
	case EventScanStarting:
		p.indexer = e.Indexer
		p.filesQueued += e.Files
	case EventPassFinished:
		p.passesTotal++
		if e.Outcome != OutcomeClean && e.Outcome != OutcomeSkipped {
			p.passesDegraded++
			if e.Err != nil {
				p.lastError = e.Err.Error()
			}
		}
	case EventRecovery:
		p.recoveries++
	case EventUnitFinished:
		p.unitsDone++
		p.indexer = ""
		if e.Result == resultAborted {
			p.status = StatusError
			if e.Err != nil {
				p.lastError = e.Err.Error()
			}
			return
		}
		p.status = StatusIdle
	}
}

// Flushed records a committed batch.
func (p *Progress) Flushed(s cluster.FlushStats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.documents += s.Documents
	p.bytes += s.Bytes
}

// IsIndexing returns true while a unit is running.
func (p *Progress) IsIndexing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusIndexing
}

// Snapshot returns a copy of the current counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return ProgressSnapshot{
		Status:          string(p.status),
		Root:            p.root,
		Indexer:         p.indexer,
		UnitsDone:       p.unitsDone,
		PassesTotal:     p.passesTotal,
		PassesDegraded:  p.passesDegraded,
		Recoveries:      p.recoveries,
		FilesQueued:     p.filesQueued,
		DocumentsStored: p.documents,
		BytesFlushed:    p.bytes,
		ElapsedSeconds:  time.Since(p.startTime).Seconds(),
		LastError:       p.lastError,
	}
}
