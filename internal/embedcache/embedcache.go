package embedcache

import (
	"context"
	"errors"
)

var (
	// ErrCacheCorrupt is returned when the cache file exists but cannot be decoded
	ErrCacheCorrupt = errors.New("embedding cache is corrupt")
	// ErrNotLoaded is returned when the store is used before Load
	ErrNotLoaded = errors.New("embedding cache not loaded")
)

// Store maps (dataset, record id) to the content hash last embedded for it
type Store interface {
	// Load reads the persisted state. A missing backing file is an empty cache.
	Load(ctx context.Context) error

	// Get returns the cached content hash for a record
	Get(dataset, id string) (string, bool)

	// MergeAndSave unions entries into the dataset's existing entries, with
	// entries winning on collision, and persists the result atomically
	MergeAndSave(ctx context.Context, dataset string, entries map[string]string) error

	// Entries returns a copy of a dataset's entries
	Entries(dataset string) map[string]string
}

// Snapshot is the in-memory form of a cache: dataset -> id -> content hash
type Snapshot map[string]map[string]string

// Merge applies entries to dataset, new values taking precedence
func (s Snapshot) Merge(dataset string, entries map[string]string) {
	existing, ok := s[dataset]
	if !ok {
		existing = make(map[string]string, len(entries))
		s[dataset] = existing
	}
	for id, hash := range entries {
		existing[id] = hash
	}
}

// Lookup returns the hash stored for (dataset, id)
func (s Snapshot) Lookup(dataset, id string) (string, bool) {
	hash, ok := s[dataset][id]
	return hash, ok
}

// Copy returns a copy of one dataset's entries
func (s Snapshot) Copy(dataset string) map[string]string {
	out := make(map[string]string, len(s[dataset]))
	for id, hash := range s[dataset] {
		out[id] = hash
	}
	return out
}
