package cache

import (
	"context"

	"plex/pkg/asset"
)

// Scoped is a view of a Layer whose keys are prefixed with a namespace, so
// images that share identifier names do not share entries.
// Immutable
type Scoped struct {
	layer Layer
	scope string
}

var _ Layer = Scoped{}

// NewScoped returns the view of layer for scope.
func NewScoped(layer Layer, scope string) Scoped {
	return Scoped{layer: layer, scope: scope}
}

func (s Scoped) key(id string) string {
	return s.scope + "#" + id
}

func (s Scoped) Lookup(ctx context.Context, id string) (*asset.Asset, bool, error) {
	return s.layer.Lookup(ctx, s.key(id))
}

func (s Scoped) Store(ctx context.Context, id string, a *asset.Asset) error {
	return s.layer.Store(ctx, s.key(id), a)
}
