// Package source provides data sources for the multiplex coordinator: fixed
// tables, JSON manifests queried with jq, HTML srcset attributes and Starlark
// scripts.
package source

import (
	"fmt"
	"strings"
	"sync"

	"plex/pkg/asset"
	"plex/pkg/multiplex"
)

// Static maps identifiers to in-memory assets or locators. It may be modified
// while a coordinator uses it; call ReloadSources afterwards.
// Mutable
type Static struct {
	mu       sync.RWMutex
	assets   map[string]*asset.Asset
	locators map[string]multiplex.Locator
}

var (
	_ multiplex.AssetSource[string, *asset.Asset] = (*Static)(nil)
	_ multiplex.LocatorSource[string]             = (*Static)(nil)
)

func NewStatic() *Static {
	return &Static{
		assets:   make(map[string]*asset.Asset),
		locators: make(map[string]multiplex.Locator),
	}
}

// ParsePairs builds a Static source from "id=locator" arguments and returns
// the identifiers in argument order.
func ParsePairs(pairs []string) (*Static, []string, error) {
	s := NewStatic()
	ids := make([]string, 0, len(pairs))
	for _, p := range pairs {
		id, loc, ok := strings.Cut(p, "=")
		if !ok || id == "" {
			return nil, nil, fmt.Errorf("invalid source %q: expected id=locator", p)
		}
		if _, dup := s.locators[id]; dup {
			return nil, nil, fmt.Errorf("duplicate identifier %q", id)
		}
		s.locators[id] = multiplex.Locator(loc)
		ids = append(ids, id)
	}
	return s, ids, nil
}

func (s *Static) SetAsset(id string, a *asset.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[id] = a
}

func (s *Static) SetLocator(id string, loc multiplex.Locator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locators[id] = loc
}

// Remove forgets both the asset and the locator of id.
func (s *Static) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assets, id)
	delete(s.locators, id)
}

func (s *Static) AssetFor(id string) (*asset.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	return a, ok && a != nil
}

func (s *Static) LocatorFor(id string) (multiplex.Locator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locators[id]
	return l, ok
}
