package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Aman-CERP/amanidx/internal/index"
)

// PlainRenderer outputs plain text progress (for CI/pipes). It prints a
// line whenever the running root or indexer changes, or a new error
// appears.
type PlainRenderer struct {
	mu   sync.Mutex
	out  io.Writer
	last index.ProgressSnapshot
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error {
	return nil
}

// Update implements Renderer.
func (r *PlainRenderer) Update(snap index.ProgressSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Status == string(index.StatusIndexing) && snap.Indexer != "" &&
		(snap.Root != r.last.Root || snap.Indexer != r.last.Indexer) {
		_, _ = fmt.Fprintf(r.out, "[INDEX] %s %s - %d files queued\n", snap.Root, snap.Indexer, snap.FilesQueued)
	}
	if snap.LastError != "" && snap.LastError != r.last.LastError {
		_, _ = fmt.Fprintf(r.out, "ERROR: %s\n", snap.LastError)
	}
	r.last = snap
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := s.Progress
	_, _ = fmt.Fprintf(r.out, "Complete: %d roots, %d units, %d documents in %s",
		s.Roots, p.UnitsDone, p.DocumentsStored, s.Duration.Round(100*time.Millisecond))
	if p.PassesDegraded > 0 || p.Recoveries > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d degraded passes, %d recoveries)", p.PassesDegraded, p.Recoveries)
	}
	_, _ = fmt.Fprintln(r.out)
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
