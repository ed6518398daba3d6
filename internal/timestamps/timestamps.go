package timestamps

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/internal/logging"
)

// DefaultSaveDelay is the time between the first unsaved change and the
// write that persists it.
const DefaultSaveDelay = 2 * time.Second

// EventKind names a persistence lifecycle step.
type EventKind string

const (
	EventStoring EventKind = "STORING"
	EventStored  EventKind = "STORED"
	EventFailed  EventKind = "FAILED"
)

// Event reports one step of writing a batch.
type Event struct {
	Kind       EventKind
	Generation uint64
	Size       int
	Err        error
}

// TimeStamps holds archive states in memory and persists changes in
// batches: the first change arms a timer, every change until it fires
// joins the same write, and at most one write runs at a time.
type TimeStamps struct {
	backend  Backend
	delay    time.Duration
	retry    amerrors.RetryConfig
	logger   *slog.Logger
	observer func(Event)

	entries *xsync.MapOf[string, State]

	mu      sync.Mutex
	dirty   map[string]struct{}
	timer   *time.Timer
	timerID uint64
	writing bool
	gen     uint64
	changed chan struct{}
	closed  bool
	subs    map[int]chan Event
	nextSub int
}

// Option configures TimeStamps.
type Option func(*TimeStamps)

// WithSaveDelay sets the debounce delay.
func WithSaveDelay(d time.Duration) Option {
	return func(t *TimeStamps) {
		if d > 0 {
			t.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *TimeStamps) {
		t.logger = l
	}
}

// WithRetry sets the retry policy for failed writes.
func WithRetry(cfg amerrors.RetryConfig) Option {
	return func(t *TimeStamps) {
		t.retry = cfg
	}
}

// WithObserver receives every event synchronously on the writing goroutine.
func WithObserver(fn func(Event)) Option {
	return func(t *TimeStamps) {
		t.observer = fn
	}
}

// Open loads every persisted state from backend.
func Open(backend Backend, opts ...Option) (*TimeStamps, error) {
	t := &TimeStamps{
		backend: backend,
		delay:   DefaultSaveDelay,
		retry:   amerrors.DefaultRetryConfig(),
		entries: xsync.NewMapOf[string, State](),
		dirty:   make(map[string]struct{}),
		changed: make(chan struct{}),
		subs:    make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logging.OrDefault(t.logger)

	loaded, err := backend.Load(context.Background())
	if err != nil {
		return nil, amerrors.PersistError("failed to load archive timestamps", err)
	}
	for url, st := range loaded {
		t.entries.Store(url, st)
	}
	t.logger.Debug("archive timestamps loaded", slog.Int("entries", len(loaded)))
	return t, nil
}

// GetLastModified returns a copy of the state of url.
func (t *TimeStamps) GetLastModified(url string) (State, bool) {
	st, ok := t.entries.Load(url)
	if !ok {
		return State{}, false
	}
	return st.Clone(), true
}

// SetLastModified records st for url. It is visible to readers at once and
// persisted with the next batch.
func (t *TimeStamps) SetLastModified(url string, st State) {
	t.entries.Store(url, st.Clone())
	t.markDirty(url)
}

// Remove forgets url.
func (t *TimeStamps) Remove(url string) {
	t.entries.Delete(url)
	t.markDirty(url)
}

// IsUpToDate reports whether url was indexed by id at or after modified.
func (t *TimeStamps) IsUpToDate(url string, modified time.Time, id IndexerID) bool {
	st, ok := t.entries.Load(url)
	if !ok || !st.Has(id) {
		return false
	}
	return modified.UnixMilli() <= st.LastModified
}

// Len returns the number of known archives.
func (t *TimeStamps) Len() int {
	return t.entries.Size()
}

// Range calls fn for every archive state until fn returns false.
func (t *TimeStamps) Range(fn func(url string, st State) bool) {
	t.entries.Range(func(url string, st State) bool {
		return fn(url, st.Clone())
	})
}

func (t *TimeStamps) markDirty(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		t.logger.Warn("archive timestamp changed after close", slog.String("url", url))
		return
	}
	t.dirty[url] = struct{}{}
	if !t.writing && t.timer == nil {
		t.armLocked()
	}
}

// armLocked starts the save timer. The delay runs from the first change,
// later changes do not postpone it.
func (t *TimeStamps) armLocked() {
	t.timerID++
	id := t.timerID
	t.timer = time.AfterFunc(t.delay, func() { t.fire(id) })
}

func (t *TimeStamps) fire(id uint64) {
	t.mu.Lock()
	if id != t.timerID || t.timer == nil {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	if t.writing || len(t.dirty) == 0 {
		t.mu.Unlock()
		return
	}
	gen, urls := t.takeLocked()
	t.mu.Unlock()

	_ = t.write(gen, urls)
}

// takeLocked moves the dirty set into a new write generation.
func (t *TimeStamps) takeLocked() (uint64, []string) {
	urls := make([]string, 0, len(t.dirty))
	for url := range t.dirty {
		urls = append(urls, url)
	}
	clear(t.dirty)
	t.writing = true
	t.gen++
	return t.gen, urls
}

func (t *TimeStamps) write(gen uint64, urls []string) error {
	t.emit(Event{Kind: EventStoring, Generation: gen, Size: len(urls)})

	puts := make(map[string]State, len(urls))
	var deletes []string
	for _, url := range urls {
		if st, ok := t.entries.Load(url); ok {
			puts[url] = st
		} else {
			deletes = append(deletes, url)
		}
	}

	err := amerrors.Retry(context.Background(), t.retry, func() error {
		return t.backend.Write(context.Background(), puts, deletes)
	})
	if err != nil {
		err = amerrors.PersistError("failed to persist archive timestamps", err)
	}

	t.mu.Lock()
	t.writing = false
	if err != nil {
		for _, url := range urls {
			t.dirty[url] = struct{}{}
		}
	}
	if len(t.dirty) > 0 && !t.closed && t.timer == nil {
		t.armLocked()
	}
	close(t.changed)
	t.changed = make(chan struct{})
	t.mu.Unlock()

	if err != nil {
		amerrors.Log(t.logger, "archive timestamps write failed", err, slog.Uint64("generation", gen))
		t.emit(Event{Kind: EventFailed, Generation: gen, Size: len(urls), Err: err})
		return err
	}
	t.logger.Debug("archive timestamps stored",
		slog.Uint64("generation", gen),
		slog.Int("size", len(urls)))
	t.emit(Event{Kind: EventStored, Generation: gen, Size: len(urls)})
	return nil
}

// Flush writes every pending change now and waits until nothing is left
// to write.
func (t *TimeStamps) Flush(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.writing {
			wait := t.changed
			t.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if len(t.dirty) == 0 {
			t.mu.Unlock()
			return nil
		}
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		gen, urls := t.takeLocked()
		t.mu.Unlock()

		if err := t.write(gen, urls); err != nil {
			return err
		}
	}
}

// WaitSilent waits until the pending changes have been written by the
// regular schedule.
func (t *TimeStamps) WaitSilent(ctx context.Context) error {
	for {
		t.mu.Lock()
		if !t.writing && len(t.dirty) == 0 {
			t.mu.Unlock()
			return nil
		}
		wait := t.changed
		t.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Subscribe returns a channel receiving every event and a function that
// cancels the subscription. Events are dropped for slow subscribers.
func (t *TimeStamps) Subscribe() (<-chan Event, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	ch := make(chan Event, 256)
	t.subs[id] = ch
	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
}

func (t *TimeStamps) emit(ev Event) {
	if t.observer != nil {
		t.observer(ev)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close writes pending changes and closes the backend. Changes made once
// Close has started are logged and dropped.
func (t *TimeStamps) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	flushErr := t.Flush(context.Background())

	t.mu.Lock()
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
	t.mu.Unlock()

	if err := t.backend.Close(); err != nil {
		return err
	}
	return flushErr
}
