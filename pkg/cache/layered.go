package cache

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"plex/pkg/asset"
)

// Layered consults its layers in order and copies a hit into the layers
// before the one that had it.
// Immutable
type Layered struct {
	layers []Layer
	logger *zap.Logger
}

var _ Layer = (*Layered)(nil)

// NewLayered stacks layers, fastest first.
func NewLayered(logger *zap.Logger, layers ...Layer) *Layered {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Layered{layers: layers, logger: logger}
}

func (l *Layered) Lookup(ctx context.Context, id string) (*asset.Asset, bool, error) {
	var errs []error
	for i, layer := range l.layers {
		a, ok, err := layer.Lookup(ctx, id)
		if err != nil {
			l.logger.Debug("cache layer lookup failed", zap.Int("layer", i), zap.String("id", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		for _, upper := range l.layers[:i] {
			if err := upper.Store(ctx, id, a); err != nil {
				l.logger.Debug("cache promotion failed", zap.String("id", id), zap.Error(err))
			}
		}
		return a, true, nil
	}
	return nil, false, errors.Join(errs...)
}

func (l *Layered) Store(ctx context.Context, id string, a *asset.Asset) error {
	var errs []error
	for _, layer := range l.layers {
		if err := layer.Store(ctx, id, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
