// Package timestamps remembers when each archive was last indexed and by
// which indexer versions, persisting changes in debounced batches.
package timestamps

import (
	"encoding/json"
	"maps"
	"sort"
)

// IndexerID identifies an indexer schema.
type IndexerID struct {
	Name    string
	Version int
}

// State is the indexing state of one archive.
type State struct {
	// LastModified is the archive modification time in milliseconds at
	// the last successful indexing.
	LastModified int64
	// Versions maps every indexer that indexed the archive cleanly to its
	// internal version.
	Versions map[IndexerID]int
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	return State{LastModified: s.LastModified, Versions: maps.Clone(s.Versions)}
}

// Has reports whether id indexed the archive.
func (s State) Has(id IndexerID) bool {
	_, ok := s.Versions[id]
	return ok
}

type versionEntry struct {
	Name     string `json:"name"`
	Version  int    `json:"version"`
	Internal int    `json:"internal"`
}

// encodeVersions returns the JSON form of v, sorted for stable output.
func encodeVersions(v map[IndexerID]int) ([]byte, error) {
	entries := make([]versionEntry, 0, len(v))
	for id, internal := range v {
		entries = append(entries, versionEntry{Name: id.Name, Version: id.Version, Internal: internal})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Version < entries[j].Version
	})
	return json.Marshal(entries)
}

func decodeVersions(data []byte) (map[IndexerID]int, error) {
	var entries []versionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	out := make(map[IndexerID]int, len(entries))
	for _, e := range entries {
		out[IndexerID{Name: e.Name, Version: e.Version}] = e.Internal
	}
	return out, nil
}

type record struct {
	LastModified int64           `json:"last_modified"`
	Versions     json.RawMessage `json:"versions"`
}

func encodeState(s State) ([]byte, error) {
	v, err := encodeVersions(s.Versions)
	if err != nil {
		return nil, err
	}
	return json.Marshal(record{LastModified: s.LastModified, Versions: v})
}

func decodeState(data []byte) (State, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return State{}, err
	}
	v, err := decodeVersions(r.Versions)
	if err != nil {
		return State{}, err
	}
	return State{LastModified: r.LastModified, Versions: v}, nil
}
