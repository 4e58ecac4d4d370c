package downloader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"

	"plex/pkg/display"
)

// Immutable
type fileHandler struct{}

// NewFileHandler returns a handler for file:// URIs and plain paths.
func NewFileHandler() SchemeHandler {
	return fileHandler{}
}

func (fileHandler) Schemes() []string {
	return []string{"file", ""}
}

func (fileHandler) Download(ctx context.Context, uri string, w io.Writer, task display.Task) error {
	path := uri
	if u, err := url.Parse(uri); err == nil && u.Scheme == "file" {
		path = u.Path
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	task.SetStage("Read", path)
	return copyWithProgress(w, &contextReader{ctx: ctx, r: f}, info.Size(), task)
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
