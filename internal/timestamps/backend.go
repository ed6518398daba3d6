package timestamps

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// Backend kinds.
const (
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// Backend is durable storage for archive states.
type Backend interface {
	// Load returns every persisted state.
	Load(ctx context.Context) (map[string]State, error)
	// Write applies puts and deletes atomically.
	Write(ctx context.Context, puts map[string]State, deletes []string) error
	Close() error
}

// NewBackend opens the backend of the given kind inside dir.
func NewBackend(kind, dir string, logger *slog.Logger) (Backend, error) {
	switch kind {
	case "", BackendSQLite:
		return OpenSQLite(filepath.Join(dir, "timestamps.db"), logger)
	case BackendPebble:
		return OpenPebble(filepath.Join(dir, "timestamps"))
	default:
		return nil, fmt.Errorf("unknown timestamps backend %q", kind)
	}
}
