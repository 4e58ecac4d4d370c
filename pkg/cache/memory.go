package cache

import (
	"context"
	"sync"

	"github.com/golang/groupcache/lru"

	"plex/pkg/asset"
)

// DefaultMemoryEntries is the capacity used when NewMemory is given zero.
const DefaultMemoryEntries = 256

// Memory is a bounded in-process LRU cache.
// Mutable
type Memory struct {
	mu    sync.Mutex
	cache *lru.Cache
}

var _ Layer = (*Memory)(nil)

// NewMemory creates a cache holding at most maxEntries assets.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}
	return &Memory{cache: lru.New(maxEntries)}
}

func (m *Memory) Lookup(ctx context.Context, id string) (*asset.Asset, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, false, nil
	}
	return v.(*asset.Asset), true, nil
}

func (m *Memory) Store(ctx context.Context, id string, a *asset.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Add(id, a)
	return nil
}

// Len returns the number of cached assets.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}
