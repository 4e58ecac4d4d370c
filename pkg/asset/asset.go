// Package asset holds decoded image assets as produced by the fetch gateway and
// stored by the caches.
package asset

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrUnknownFormat is returned for payloads no registered decoder accepts.
var ErrUnknownFormat = errors.New("unknown image format")

// Asset is one decoded quality tier of an image. Data keeps the encoded bytes so
// the asset can be cached without re-encoding.
// Immutable
type Asset struct {
	Locator string
	Format  string
	Data    []byte
	Image   image.Image
}

// Decode decodes data fetched from locator.
func Decode(locator string, data []byte) (*Asset, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("failed to decode %s: %w", locator, ErrUnknownFormat)
		}
		return nil, fmt.Errorf("failed to decode %s: %w", locator, err)
	}
	return &Asset{Locator: locator, Format: format, Data: data, Image: img}, nil
}

// Bounds returns the pixel size of the asset.
func (a *Asset) Bounds() (width, height int) {
	if a == nil || a.Image == nil {
		return 0, 0
	}
	b := a.Image.Bounds()
	return b.Dx(), b.Dy()
}

func (a *Asset) String() string {
	if a == nil {
		return "<nil>"
	}
	w, h := a.Bounds()
	return fmt.Sprintf("%s %dx%d (%d bytes)", a.Format, w, h, len(a.Data))
}
