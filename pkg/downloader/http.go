package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"plex/pkg/display"
)

// Immutable
type httpHandler struct {
	client    *http.Client
	userAgent string
}

// NewHTTPHandler returns a handler for http and https. An empty userAgent
// keeps the Go default.
func NewHTTPHandler(userAgent string) SchemeHandler {
	return &httpHandler{
		client: &http.Client{
			Timeout: 0, // Handled by context
		},
		userAgent: userAgent,
	}
}

func (h *httpHandler) Schemes() []string {
	return []string{"http", "https"}
}

func (h *httpHandler) Download(ctx context.Context, uri string, w io.Writer, task display.Task) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	task.SetStage("Download", uri)
	return copyWithProgress(w, resp.Body, resp.ContentLength, task)
}

// copyWithProgress copies src to w, reporting to task as bytes arrive. total
// is -1 when unknown.
func copyWithProgress(w io.Writer, src io.Reader, total int64, task display.Task) error {
	pw := &progressWriter{
		task:  task,
		total: total,
		start: time.Now(),
	}
	if _, err := io.Copy(io.MultiWriter(w, pw), src); err != nil {
		return err
	}
	if pw.total <= 0 {
		task.Progress(100, fmt.Sprintf("%s downloaded", humanize.Bytes(uint64(pw.written))))
	}
	return nil
}

// Mutable
type progressWriter struct {
	task    display.Task
	total   int64
	written int64
	start   time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	pw.written += int64(n)

	if pw.total > 0 {
		percent := min(int((float64(pw.written)/float64(pw.total))*100), 100)
		elapsed := time.Since(pw.start).Seconds()
		speed := 0.0
		if elapsed > 0 {
			speed = float64(pw.written) / elapsed
		}
		msg := fmt.Sprintf("%s / %s (%s/s)",
			humanize.Bytes(uint64(pw.written)),
			humanize.Bytes(uint64(pw.total)),
			humanize.Bytes(uint64(speed)))
		pw.task.Progress(percent, msg)
	} else {
		pw.task.Progress(0, fmt.Sprintf("%s downloaded", humanize.Bytes(uint64(pw.written))))
	}

	return n, nil
}
