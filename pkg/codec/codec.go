// Package codec compresses and decompresses asset payloads. Remote payloads
// are recognised by their name suffix; cached blobs carry their tag in the
// cache index.
package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies a compression format. Values are stored in the disk cache
// index and must not change.
type Tag uint8

const (
	None Tag = iota
	Gzip
	Zstd
	LZ4
)

func (t Tag) String() string {
	switch t {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseTag parses the name returned by Tag.String.
func ParseTag(name string) (Tag, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return None, nil
	case "gzip", "gz":
		return Gzip, nil
	case "zstd", "zst":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return None, fmt.Errorf("unknown compression: %q", name)
	}
}

// Extension returns the name suffix of t, or "" for None.
func (t Tag) Extension() string {
	switch t {
	case Gzip:
		return ".gz"
	case Zstd:
		return ".zst"
	case LZ4:
		return ".lz4"
	default:
		return ""
	}
}

// TagForName returns the compression implied by the suffix of name, ignoring
// any URL query or fragment.
func TagForName(name string) Tag {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	for _, t := range []Tag{Gzip, Zstd, LZ4} {
		if strings.HasSuffix(name, t.Extension()) {
			return t
		}
	}
	return None
}

// NewReader wraps r with a decompressor for t.
func NewReader(t Tag, r io.Reader) (io.ReadCloser, error) {
	switch t {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gzr, nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", t)
	}
}

// Compress encodes data with t. None returns data unchanged.
func Compress(t Tag, data []byte) ([]byte, error) {
	if t == None {
		return data, nil
	}
	var buf bytes.Buffer
	var w io.WriteCloser
	switch t {
	case Gzip:
		w = gzip.NewWriter(&buf)
	case Zstd:
		zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		w = zw
	case LZ4:
		w = lz4.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("unsupported compression: %s", t)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("%s compress: %w", t, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s compress: %w", t, err)
	}
	return buf.Bytes(), nil
}

// Decompress decodes data produced by Compress with the same tag.
func Decompress(t Tag, data []byte) ([]byte, error) {
	if t == None {
		return data, nil
	}
	r, err := NewReader(t, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", t, err)
	}
	return out, nil
}
