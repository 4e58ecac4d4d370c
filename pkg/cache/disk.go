package cache

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"plex/pkg/asset"
	"plex/pkg/codec"
)

// Disk stores encoded assets as content-addressed blobs under dir, indexed by
// identifier. Several processes may share one directory.
// Immutable
type Disk struct {
	dir         string
	compression codec.Tag
	index       *index
	logger      *zap.Logger
}

var _ Layer = (*Disk)(nil)

// NewDisk opens (lazily) the cache rooted at dir. New blobs are compressed
// with compression.
func NewDisk(dir string, compression codec.Tag, logger *zap.Logger) *Disk {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Disk{
		dir:         dir,
		compression: compression,
		index:       newIndex(filepath.Join(dir, "index.json")),
		logger:      logger,
	}
}

// Dir returns the cache root.
func (d *Disk) Dir() string {
	return d.dir
}

func (d *Disk) blobPath(name string) string {
	return filepath.Join(d.dir, "blobs", name[:2], name)
}

func (d *Disk) Lookup(ctx context.Context, id string) (*asset.Asset, bool, error) {
	e, ok, err := d.index.get(id)
	if err != nil || !ok {
		return nil, false, err
	}
	tag, err := codec.ParseTag(e.Compression)
	if err != nil {
		return nil, false, fmt.Errorf("cache entry %s: %w", id, err)
	}

	packed, err := os.ReadFile(d.blobPath(e.Blob))
	if err != nil {
		if os.IsNotExist(err) {
			d.logger.Debug("cache blob missing", zap.String("id", id), zap.String("blob", e.Blob))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read blob: %w", err)
	}
	data, err := codec.Decompress(tag, packed)
	if err != nil {
		return nil, false, fmt.Errorf("cache entry %s: %w", id, err)
	}
	if len(data) != e.Size || blobName(data, tag) != e.Blob {
		return nil, false, fmt.Errorf("cache entry %s: blob %s is corrupt", id, e.Blob)
	}

	a, err := asset.Decode(e.Locator, data)
	if err != nil {
		return nil, false, fmt.Errorf("cache entry %s: %w", id, err)
	}
	return a, true, nil
}

func (d *Disk) Store(ctx context.Context, id string, a *asset.Asset) error {
	if a == nil || len(a.Data) == 0 {
		return fmt.Errorf("cache entry %s: no encoded data", id)
	}
	name := blobName(a.Data, d.compression)
	path := d.blobPath(name)

	err := Ensure(ctx, path, func() error {
		packed, err := codec.Compress(d.compression, a.Data)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create blob dir: %w", err)
		}
		return writeAtomic(path, packed)
	})
	if err != nil {
		return fmt.Errorf("failed to store blob for %s: %w", id, err)
	}

	unlock, err := Lock(ctx, d.index.path)
	if err != nil {
		return err
	}
	defer unlock()

	err = d.index.update(func(data *indexData) error {
		data.Entries[id] = indexEntry{
			Blob:        name,
			Compression: d.compression.String(),
			Size:        len(a.Data),
			Locator:     a.Locator,
			Format:      a.Format,
			Stored:      time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", id, err)
	}
	d.logger.Debug("cached", zap.String("id", id), zap.String("blob", name), zap.Stringer("compression", d.compression))
	return nil
}

// blobName is the blake3 digest of the encoded asset, suffixed with the blob
// compression.
func blobName(data []byte, tag codec.Tag) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]) + "." + tag.String()
}
