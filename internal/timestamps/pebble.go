package timestamps

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"
)

var keyPrefix = []byte("ts/")

// Pebble stores archive states as JSON values under "ts/<url>".
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens or creates the store in dir.
func OpenPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store: %w", err)
	}
	return &Pebble{db: db}, nil
}

func key(url string) []byte {
	return append(append([]byte(nil), keyPrefix...), url...)
}

// Load returns every stored state.
func (p *Pebble) Load(ctx context.Context) (map[string]State, error) {
	upper := append(append([]byte(nil), keyPrefix[:len(keyPrefix)-1]...), keyPrefix[len(keyPrefix)-1]+1)
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: keyPrefix, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate timestamps: %w", err)
	}
	defer it.Close()

	out := make(map[string]State)
	for valid := it.First(); valid; valid = it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st, err := decodeState(it.Value())
		if err != nil {
			continue
		}
		out[string(it.Key()[len(keyPrefix):])] = st
	}
	return out, it.Error()
}

// Write applies puts and deletes in one synced batch.
func (p *Pebble) Write(_ context.Context, puts map[string]State, deletes []string) error {
	b := p.db.NewBatch()
	defer b.Close()

	for url, st := range puts {
		v, err := encodeState(st)
		if err != nil {
			return err
		}
		if err := b.Set(key(url), v, nil); err != nil {
			return err
		}
	}
	for _, url := range deletes {
		if err := b.Delete(key(url), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// Close closes the store.
func (p *Pebble) Close() error {
	return p.db.Close()
}
