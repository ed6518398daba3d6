// Package indexers holds the built-in indexer factories.
package indexers

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/Aman-CERP/amanidx/internal/indexers/symbols"
	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

var builtin = map[string]func(*slog.Logger) indexer.Factory{
	TextName:     func(l *slog.Logger) indexer.Factory { return NewTextFactory(l) },
	symbols.Name: func(l *slog.Logger) indexer.Factory { return symbols.NewFactory(l) },
}

// Names returns the names of the built-in factories, sorted.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Builtin creates the named factories. Duplicates are created once.
func Builtin(names []string, logger *slog.Logger) ([]indexer.Factory, error) {
	var out []indexer.Factory
	seen := make(map[string]bool)
	for _, name := range names {
		create, ok := builtin[name]
		if !ok {
			return nil, fmt.Errorf("unknown indexer %q, available: %v", name, Names())
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, create(logger))
	}
	return out, nil
}
