package timestamps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memBackend records writes. A non-nil gate blocks every write until it
// receives a value.
type memBackend struct {
	mu      sync.Mutex
	data    map[string]State
	writes  []int
	gate    chan struct{}
	entered chan struct{}
	fail    int
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string]State), entered: make(chan struct{}, 16)}
}

func (b *memBackend) Load(context.Context) (map[string]State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]State, len(b.data))
	for k, v := range b.data {
		out[k] = v.Clone()
	}
	return out, nil
}

func (b *memBackend) Write(_ context.Context, puts map[string]State, deletes []string) error {
	b.entered <- struct{}{}
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail > 0 {
		b.fail--
		return errors.New("disk unavailable")
	}
	for k, v := range puts {
		b.data[k] = v.Clone()
	}
	for _, k := range deletes {
		delete(b.data, k)
	}
	b.writes = append(b.writes, len(puts)+len(deletes))
	return nil
}

func (b *memBackend) Close() error { return nil }

func (b *memBackend) writeSizes() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.writes...)
}

func state(ms int64, ids ...IndexerID) State {
	st := State{LastModified: ms, Versions: map[IndexerID]int{}}
	for _, id := range ids {
		st.Versions[id] = id.Version
	}
	return st
}

var textV1 = IndexerID{Name: "text", Version: 1}

func noRetry() amerrors.RetryConfig {
	return amerrors.RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestTimeStamps_RoundTrip(t *testing.T) {
	backends := map[string]func(t *testing.T, dir string) Backend{
		"sqlite": func(t *testing.T, dir string) Backend {
			b, err := OpenSQLite(filepath.Join(dir, "ts.db"), logging.Discard())
			require.NoError(t, err)
			return b
		},
		"pebble": func(t *testing.T, dir string) Backend {
			b, err := OpenPebble(filepath.Join(dir, "ts"))
			require.NoError(t, err)
			return b
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			want := state(1700000000123, textV1, IndexerID{Name: "symbols", Version: 3})

			// Given a state set and read back immediately
			ts, err := Open(open(t, dir), WithLogger(logging.Discard()), WithSaveDelay(time.Hour))
			require.NoError(t, err)
			ts.SetLastModified("file:///r", want)
			got, ok := ts.GetLastModified("file:///r")
			require.True(t, ok)
			assert.Equal(t, want, got)

			// When closing and reopening the store
			require.NoError(t, ts.Close())
			ts, err = Open(open(t, dir), WithLogger(logging.Discard()))
			require.NoError(t, err)
			defer ts.Close()

			// Then the same state is returned
			got, ok = ts.GetLastModified("file:///r")
			require.True(t, ok)
			assert.Equal(t, want, got)
		})
	}
}

func TestTimeStamps_ReturnsCopies(t *testing.T) {
	ts, err := Open(newMemBackend(), WithLogger(logging.Discard()), WithSaveDelay(time.Hour))
	require.NoError(t, err)
	defer ts.Close()

	st := state(1, textV1)
	ts.SetLastModified("u", st)
	st.Versions[IndexerID{Name: "other"}] = 9

	got, _ := ts.GetLastModified("u")
	got.Versions[IndexerID{Name: "mutated"}] = 1

	again, _ := ts.GetLastModified("u")
	assert.Equal(t, state(1, textV1), again)
}

func TestTimeStamps_BurstIsWrittenOnce(t *testing.T) {
	backend := newMemBackend()
	var mu sync.Mutex
	var events []Event
	ts, err := Open(backend,
		WithLogger(logging.Discard()),
		WithSaveDelay(50*time.Millisecond),
		WithObserver(func(e Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}))
	require.NoError(t, err)
	defer ts.Close()

	// Given many updates within one save delay
	for i := range 100 {
		ts.SetLastModified(fmt.Sprintf("file:///r%d", i), state(int64(i), textV1))
	}

	// When the delay elapses
	require.NoError(t, ts.WaitSilent(context.Background()))

	// Then exactly one batch carried all of them
	assert.Equal(t, []int{100}, backend.writeSizes())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, Event{Kind: EventStoring, Generation: 1, Size: 100}, events[0])
	assert.Equal(t, Event{Kind: EventStored, Generation: 1, Size: 100}, events[1])
}

func TestTimeStamps_ChangesDuringWriteCauseOneFollowUp(t *testing.T) {
	backend := newMemBackend()
	backend.gate = make(chan struct{})
	ts, err := Open(backend, WithLogger(logging.Discard()), WithSaveDelay(10*time.Millisecond))
	require.NoError(t, err)

	// Given a write in flight
	ts.SetLastModified("a", state(1, textV1))
	<-backend.entered

	// When more changes arrive while it runs
	for i := range 20 {
		ts.SetLastModified(fmt.Sprintf("b%d", i), state(2, textV1))
	}
	backend.gate <- struct{}{}

	// Then exactly one more write persists all of them
	<-backend.entered
	backend.gate <- struct{}{}
	require.NoError(t, ts.WaitSilent(context.Background()))
	assert.Equal(t, []int{1, 20}, backend.writeSizes())

	close(backend.gate)
	require.NoError(t, ts.Close())
}

func TestTimeStamps_FailedWriteIsRetried(t *testing.T) {
	backend := newMemBackend()
	backend.fail = 1
	ts, err := Open(backend,
		WithLogger(logging.Discard()),
		WithSaveDelay(10*time.Millisecond),
		WithRetry(noRetry()))
	require.NoError(t, err)
	events, unsubscribe := ts.Subscribe()
	defer unsubscribe()

	ts.SetLastModified("a", state(1, textV1))

	// First write fails, the entry stays dirty and is written again
	first := <-events
	assert.Equal(t, EventStoring, first.Kind)
	failed := <-events
	assert.Equal(t, EventFailed, failed.Kind)
	assert.ErrorIs(t, failed.Err, amerrors.ErrPersistFailed)

	require.NoError(t, ts.WaitSilent(context.Background()))
	assert.Equal(t, []int{1}, backend.writeSizes())
	require.NoError(t, ts.Close())
}

func TestTimeStamps_FlushWritesImmediately(t *testing.T) {
	backend := newMemBackend()
	ts, err := Open(backend, WithLogger(logging.Discard()), WithSaveDelay(time.Hour))
	require.NoError(t, err)
	defer ts.Close()

	ts.SetLastModified("a", state(1, textV1))
	ts.Remove("b")

	require.NoError(t, ts.Flush(context.Background()))
	assert.Equal(t, []int{2}, backend.writeSizes())

	// Nothing left: a second flush writes nothing
	require.NoError(t, ts.Flush(context.Background()))
	assert.Len(t, backend.writeSizes(), 1)
}

func TestTimeStamps_RemovePersistsDeletion(t *testing.T) {
	backend := newMemBackend()
	backend.data["gone"] = state(5, textV1)
	ts, err := Open(backend, WithLogger(logging.Discard()), WithSaveDelay(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, ts.Len())

	ts.Remove("gone")
	_, ok := ts.GetLastModified("gone")
	assert.False(t, ok)

	require.NoError(t, ts.Close())
	assert.Empty(t, backend.data)
}

func TestTimeStamps_IsUpToDate(t *testing.T) {
	ts, err := Open(newMemBackend(), WithLogger(logging.Discard()), WithSaveDelay(time.Hour))
	require.NoError(t, err)
	defer ts.Close()

	indexed := time.UnixMilli(1000)
	ts.SetLastModified("a", State{LastModified: indexed.UnixMilli(), Versions: map[IndexerID]int{textV1: 1}})

	assert.True(t, ts.IsUpToDate("a", indexed, textV1))
	assert.True(t, ts.IsUpToDate("a", indexed.Add(-time.Second), textV1))
	assert.False(t, ts.IsUpToDate("a", indexed.Add(time.Second), textV1))
	assert.False(t, ts.IsUpToDate("a", indexed, IndexerID{Name: "text", Version: 2}))
	assert.False(t, ts.IsUpToDate("missing", indexed, textV1))
}

func TestOpenSQLite_DiscardsCorruptFile(t *testing.T) {
	// Given a database file holding garbage
	path := filepath.Join(t.TempDir(), "ts.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite database at all, just noise"), 0o644))

	// When opening it
	b, err := OpenSQLite(path, logging.Discard())
	require.NoError(t, err)
	defer b.Close()

	// Then it starts empty and is writable
	loaded, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
	require.NoError(t, b.Write(context.Background(), map[string]State{"a": state(1, textV1)}, nil))
}

func TestNewBackend(t *testing.T) {
	dir := t.TempDir()
	for _, kind := range []string{"", BackendSQLite, BackendPebble} {
		b, err := NewBackend(kind, dir, logging.Discard())
		require.NoError(t, err, kind)
		require.NoError(t, b.Close())
	}

	_, err := NewBackend("redis", dir, logging.Discard())
	assert.Error(t, err)
}

func TestTimeStamps_SetAfterCloseStaysInMemory(t *testing.T) {
	backend := newMemBackend()
	ts, err := Open(backend, WithLogger(logging.Discard()), WithSaveDelay(time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, ts.Close())

	ts.SetLastModified("late", state(1, textV1))
	_, ok := ts.GetLastModified("late")
	assert.True(t, ok)
	assert.Empty(t, backend.writeSizes())
}

func TestTimeStamps_CloseDuringWriteKeepsPendingChanges(t *testing.T) {
	// Given a scheduled write in flight and a change queued behind it
	backend := newMemBackend()
	backend.gate = make(chan struct{})
	ts, err := Open(backend, WithLogger(logging.Discard()), WithSaveDelay(time.Millisecond))
	require.NoError(t, err)
	ts.SetLastModified("a", state(1, textV1))
	<-backend.entered
	ts.SetLastModified("b", state(2, textV1))

	// When closing while the write is blocked
	closed := make(chan error, 1)
	go func() { closed <- ts.Close() }()
	backend.gate <- struct{}{}
	<-backend.entered
	backend.gate <- struct{}{}
	require.NoError(t, <-closed)

	// Then both changes reached the backend and later ones do not
	assert.Equal(t, []int{1, 1}, backend.writeSizes())
	ts.SetLastModified("c", state(3, textV1))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []int{1, 1}, backend.writeSizes())

	loaded, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, loaded, "a")
	assert.Contains(t, loaded, "b")
	assert.NotContains(t, loaded, "c")
	close(backend.gate)
}
