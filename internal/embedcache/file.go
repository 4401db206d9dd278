package embedcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/dshills/reposearch/internal/dataset"
)

// DefaultPath is the cache file used when none is configured
const DefaultPath = "embedding_cache.json"

// FileStore persists the cache as a single JSON object
type FileStore struct {
	path string

	mu       sync.RWMutex
	snapshot Snapshot
	loaded   bool
}

// NewFileStore creates a file-backed cache at path
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: path}
}

// Path returns the cache file location
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the cache file. Only a missing file is treated as empty.
func (f *FileStore) Load(ctx context.Context) error {
	snap, err := readSnapshot(f.path)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = snap
	f.loaded = true
	return nil
}

func (f *FileStore) Get(dataset, id string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshot.Lookup(dataset, id)
}

func (f *FileStore) Entries(dataset string) map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshot.Copy(dataset)
}

// MergeAndSave re-reads the file so entries persisted since Load are kept,
// merges entries into dataset and atomically replaces the file
func (f *FileStore) MergeAndSave(ctx context.Context, datasetName string, entries map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.loaded {
		return ErrNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	current, err := readSnapshot(f.path)
	if err != nil {
		return err
	}

	// Carry over in-memory datasets that never reached disk
	for name, ids := range f.snapshot {
		if _, ok := current[name]; !ok {
			current.Merge(name, ids)
		}
	}
	current.Merge(datasetName, entries)

	data, err := encodeSnapshot(current)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	if err := dataset.WriteFileAtomic(f.path, data, 0o644); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}

	f.snapshot = current
	return nil
}

func readSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", path, err)
	}

	snap := Snapshot{}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrCacheCorrupt, path)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheCorrupt, path, err)
	}
	if snap == nil {
		// A literal null decodes without error
		return nil, fmt.Errorf("%w: %s is null", ErrCacheCorrupt, path)
	}
	return snap, nil
}

func encodeSnapshot(snap Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
