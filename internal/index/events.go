package index

import "time"

// EventKind names a scheduler event.
type EventKind string

const (
	EventUnitStarted  EventKind = "unitStarted"
	EventUnitFinished EventKind = "unitFinished"
	EventScanStarting EventKind = "scanStarting"
	EventScanFinished EventKind = "scanFinished"
	EventPassFinished EventKind = "passFinished"
	EventRecovery     EventKind = "recovery"
)

// Outcome classifies a finished factory pass.
type Outcome string

const (
	// OutcomeClean means every callback and commit succeeded.
	OutcomeClean Outcome = "clean"
	// OutcomeDegraded means a callback or commit failed; committed
	// documents are kept.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeBroken means the persistent index is corrupt.
	OutcomeBroken Outcome = "broken"
	// OutcomeStale means the attachment was reclaimed mid-pass.
	OutcomeStale Outcome = "stale"
	// OutcomeSkipped means the factory's circuit breaker is open or
	// ScanStarted declined the pass.
	OutcomeSkipped Outcome = "skipped"
)

// Event is delivered synchronously on the worker goroutine to the
// scheduler's observers.
type Event struct {
	Kind    EventKind
	Cycle   string
	Unit    WorkKind
	Root    string
	Indexer string
	// Files is the number of indexables handed to the pass.
	Files    int
	AllFiles bool
	Outcome  Outcome
	// Result of a finished unit: ok, aborted or skipped.
	Result   string
	Duration time.Duration
	Err      error
}

// String returns the event name, qualified by the indexer for scan events.
func (e Event) String() string {
	if e.Indexer != "" && (e.Kind == EventScanStarting || e.Kind == EventScanFinished) {
		return string(e.Kind) + ":" + e.Indexer
	}
	return string(e.Kind)
}
