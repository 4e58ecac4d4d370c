package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// indexEntry describes one cached asset on disk.
type indexEntry struct {
	Blob        string    `json:"blob"`
	Compression string    `json:"compression"`
	Size        int       `json:"size"`
	Locator     string    `json:"locator,omitempty"`
	Format      string    `json:"format,omitempty"`
	Stored      time.Time `json:"stored"`
}

type indexData struct {
	Version int                   `json:"version"`
	Entries map[string]indexEntry `json:"entries"`
}

const indexVersion = 1

// index is the JSON index of a disk cache. It is loaded on first use and saved
// atomically. Other processes may rewrite the file, so writers reload it under
// the cache lock before modifying it.
// Mutable
type index struct {
	path   string
	mu     sync.RWMutex
	data   *indexData
	loaded bool
	dirty  bool
}

func newIndex(path string) *index {
	return &index{path: path}
}

// get returns the entry for id, loading the index if needed.
func (x *index) get(id string) (indexEntry, bool, error) {
	x.mu.RLock()
	if x.loaded {
		defer x.mu.RUnlock()
		e, ok := x.data.Entries[id]
		return e, ok, nil
	}
	x.mu.RUnlock()

	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.loaded {
		if err := x.loadLocked(); err != nil {
			return indexEntry{}, false, err
		}
	}
	e, ok := x.data.Entries[id]
	return e, ok, nil
}

// update reloads the index from disk, applies fn and saves the result.
func (x *index) update(fn func(*indexData) error) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.loadLocked(); err != nil {
		return err
	}
	if err := fn(x.data); err != nil {
		return err
	}
	x.dirty = true
	return x.saveLocked()
}

func (x *index) loadLocked() error {
	raw, err := os.ReadFile(x.path)
	if err != nil {
		if os.IsNotExist(err) {
			x.data = &indexData{Version: indexVersion, Entries: make(map[string]indexEntry)}
			x.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read index: %w", err)
	}

	var data indexData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to unmarshal index %s: %w", x.path, err)
	}
	if data.Version != indexVersion {
		return fmt.Errorf("index %s has version %d, want %d", x.path, data.Version, indexVersion)
	}
	if data.Entries == nil {
		data.Entries = make(map[string]indexEntry)
	}
	x.data = &data
	x.loaded = true
	x.dirty = false
	return nil
}

// saveLocked writes the index through a temp file and a rename.
func (x *index) saveLocked() error {
	if !x.dirty {
		return nil
	}
	raw, err := json.MarshalIndent(x.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(x.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := writeAtomic(x.path, raw); err != nil {
		return err
	}
	x.dirty = false
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
