package downloader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"plex/pkg/display"
)

// Option configures the default downloader.
type Option func(*manager)

// WithUserAgent sets the User-Agent header of HTTP requests.
func WithUserAgent(ua string) Option {
	return func(m *manager) {
		m.userAgent = ua
	}
}

// WithHandler registers an extra scheme handler, replacing the default one for
// the same schemes.
func WithHandler(h SchemeHandler) Option {
	return func(m *manager) {
		m.extra = append(m.extra, h)
	}
}

// Mutable
type manager struct {
	handlers  map[string]SchemeHandler
	userAgent string
	extra     []SchemeHandler
}

// NewDefaultDownloader handles http, https and local files.
func NewDefaultDownloader(opts ...Option) Downloader {
	m := &manager{
		handlers: make(map[string]SchemeHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.Register(NewHTTPHandler(m.userAgent))
	m.Register(NewFileHandler())
	for _, h := range m.extra {
		m.Register(h)
	}
	return m
}

func (m *manager) Register(h SchemeHandler) {
	for _, scheme := range h.Schemes() {
		m.handlers[scheme] = h
	}
}

func (m *manager) Download(ctx context.Context, uri string, w io.Writer, task display.Task) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid uri: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	handler, ok := m.handlers[scheme]
	if !ok {
		return fmt.Errorf("unsupported scheme: %s", scheme)
	}

	return handler.Download(ctx, uri, w, task)
}
