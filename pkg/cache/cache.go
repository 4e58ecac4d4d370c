// Package cache provides the asset caches consulted by the coordinator before
// fetching: an in-memory cache, a compressed on-disk cache shared between
// processes, and a layered combination of both.
package cache

import (
	"context"
	"os"

	"plex/pkg/asset"
	"plex/pkg/multiplex"
)

// Layer is a cache that can be stacked in a Layered cache.
type Layer interface {
	multiplex.Cache[string, *asset.Asset]
	multiplex.CacheWriter[string, *asset.Asset]
}

// Ensure creates target by running fn unless it already exists. The target's
// lock keeps concurrent processes from running fn for the same target.
func Ensure(ctx context.Context, target string, fn func() error) error {
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	unlock, err := Lock(ctx, target)
	if err != nil {
		return err
	}
	defer unlock()

	// It may have been created while we waited for the lock.
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	return fn()
}
