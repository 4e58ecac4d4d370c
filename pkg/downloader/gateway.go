package downloader

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"plex/pkg/asset"
	"plex/pkg/codec"
	"plex/pkg/multiplex"
)

// Gateway fetches and decodes image assets for a multiplex.Coordinator.
// Concurrent fetches of the same locator share one download; the download is
// cancelled once every caller has gone.
// Mutable
type Gateway struct {
	downloader Downloader
	timeout    time.Duration
	logger     *zap.Logger

	group   singleflight.Group
	mu      sync.Mutex
	flights map[multiplex.Locator]*flight
}

var _ multiplex.Fetcher[*asset.Asset] = (*Gateway)(nil)

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithTimeout bounds each download. Zero means no limit.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// WithLogger sets the gateway logger.
func WithLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = l
	}
}

// NewGateway wraps d.
func NewGateway(d Downloader, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		downloader: d,
		logger:     zap.NewNop(),
		flights:    make(map[multiplex.Locator]*flight),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// flight is one shared download and the callers waiting on it.
// Guarded by Gateway.mu
type flight struct {
	ctx       context.Context
	cancel    context.CancelFunc
	nextID    int
	listeners map[int]func(float64)
}

// Fetch downloads loc, decompresses it by name suffix and decodes it.
func (g *Gateway) Fetch(ctx context.Context, loc multiplex.Locator, progress func(float64)) (*asset.Asset, error) {
	key := string(loc)

	g.mu.Lock()
	f := g.flights[loc]
	if f == nil {
		base := context.WithoutCancel(ctx)
		var fctx context.Context
		var cancel context.CancelFunc
		if g.timeout > 0 {
			fctx, cancel = context.WithTimeout(base, g.timeout)
		} else {
			fctx, cancel = context.WithCancel(base)
		}
		f = &flight{ctx: fctx, cancel: cancel, listeners: make(map[int]func(float64))}
		g.flights[loc] = f
		g.group.Forget(key)
	} else {
		g.logger.Debug("joining download", zap.String("locator", key))
	}
	id := f.nextID
	f.nextID++
	if progress == nil {
		progress = func(float64) {}
	}
	f.listeners[id] = progress
	ch := g.group.DoChan(key, func() (any, error) {
		return g.run(f, loc)
	})
	g.mu.Unlock()

	select {
	case r := <-ch:
		g.leave(f, loc, id)
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*asset.Asset), nil
	case <-ctx.Done():
		g.leave(f, loc, id)
		return nil, ctx.Err()
	}
}

// leave drops a caller from f and cancels the download when it was the last.
func (g *Gateway) leave(f *flight, loc multiplex.Locator, id int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(f.listeners, id)
	if len(f.listeners) > 0 {
		return
	}
	f.cancel()
	if g.flights[loc] == f {
		delete(g.flights, loc)
		g.group.Forget(string(loc))
	}
}

func (g *Gateway) broadcast(f *flight, fraction float64) {
	g.mu.Lock()
	listeners := make([]func(float64), 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	g.mu.Unlock()
	for _, l := range listeners {
		l(fraction)
	}
}

func (g *Gateway) run(f *flight, loc multiplex.Locator) (*asset.Asset, error) {
	defer func() {
		g.mu.Lock()
		if g.flights[loc] == f {
			delete(g.flights, loc)
		}
		g.mu.Unlock()
	}()

	uri := string(loc)
	start := time.Now()
	task := &fetchTask{
		logger: g.logger.With(zap.String("locator", uri)),
		report: func(fraction float64) { g.broadcast(f, fraction) },
	}

	var buf bytes.Buffer
	if err := g.downloader.Download(f.ctx, uri, &buf, task); err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", uri, err)
	}
	tag := codec.TagForName(uri)
	data, err := codec.Decompress(tag, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", uri, err)
	}
	a, err := asset.Decode(uri, data)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("fetched",
		zap.String("locator", uri),
		zap.Stringer("compression", tag),
		zap.Int("bytes", buf.Len()),
		zap.Duration("elapsed", time.Since(start)))
	return a, nil
}

// fetchTask adapts the downloader's display.Task reporting to a fraction
// callback.
type fetchTask struct {
	logger *zap.Logger
	report func(float64)
}

func (t *fetchTask) Log(msg string) { t.logger.Debug(msg) }

func (t *fetchTask) SetStage(name string, target string) {
	t.logger.Debug("stage", zap.String("stage", name), zap.String("target", target))
}

func (t *fetchTask) Progress(percent int, message string) {
	t.report(float64(percent) / 100)
}

func (t *fetchTask) Done() {}
