package multiplex

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// storeTimeout bounds cache write-back after a network fetch.
const storeTimeout = 30 * time.Second

type role int

const (
	roleBest role = iota
	roleFiller
)

func (r role) String() string {
	if r == roleBest {
		return "best"
	}
	return "filler"
}

// candidate is a filler identifier and its resolution for the current pass.
type candidate[ID comparable, A any] struct {
	id   ID
	rank int
	res  Resolution[A]
}

// load is the handle of one outstanding cache lookup and/or fetch. The
// coordinator tracks at most one best and one filler load; results are
// accepted only from a tracked handle.
// Mutable, guarded by Coordinator.mu
type load[ID comparable, A any] struct {
	handle  string
	role    role
	id      ID
	rank    int
	locator Locator

	ctx    context.Context
	cancel context.CancelFunc

	// Filler only.
	forBest    *load[ID, A]
	candidates []candidate[ID, A]
	superseded bool

	started    bool
	progress   float64
	progressed bool
}

func (c *Coordinator[ID, A]) newLoadLocked(r role, id ID, rank int, loc Locator) *load[ID, A] {
	ctx, cancel := context.WithCancel(context.Background())
	l := &load[ID, A]{
		handle:  uuid.NewString(),
		role:    r,
		id:      id,
		rank:    rank,
		locator: loc,
		ctx:     ctx,
		cancel:  cancel,
	}
	c.logger.Debug("load created",
		zap.String("load", l.handle), zap.Stringer("role", r), zap.Any("id", id), zap.Int("rank", rank))
	return l
}

func (c *Coordinator[ID, A]) trackedLocked(l *load[ID, A]) bool {
	return l != nil && (c.best == l || c.filler == l)
}

// releaseLocked stops tracking l. Later results from it are discarded.
func (c *Coordinator[ID, A]) releaseLocked(l *load[ID, A]) {
	if c.best == l {
		c.best = nil
	}
	if c.filler == l {
		c.filler = nil
	}
	l.cancel()
}

// cancelLocked cancels l if it is tracked. superseded marks a filler whose
// best load was replaced, so an unstarted fetch reports
// ErrBestImageIdentifierChanged.
func (c *Coordinator[ID, A]) cancelLocked(l *load[ID, A], superseded bool) {
	if !c.trackedLocked(l) {
		return
	}
	l.superseded = superseded
	c.releaseLocked(l)
	c.logger.Debug("load cancelled",
		zap.String("load", l.handle), zap.Stringer("role", l.role), zap.Any("id", l.id), zap.Bool("superseded", superseded))
}

func (c *Coordinator[ID, A]) runBest(l *load[ID, A]) {
	if asset, ok := c.lookup(l.ctx, l.id); ok {
		c.finish(l, asset, nil, false)
		return
	}
	c.fetch(l, nil)
}

// runFiller scans the candidates best to worst. A direct asset or a cache hit
// ends the scan; otherwise the first miss is fetched.
func (c *Coordinator[ID, A]) runFiller(l *load[ID, A]) {
	var miss *candidate[ID, A]
	for i := range l.candidates {
		cand := &l.candidates[i]
		if l.ctx.Err() != nil {
			break
		}
		if cand.res.Kind == ResolvedAsset {
			c.finishCandidate(l, cand, cand.res.Asset)
			return
		}
		if asset, ok := c.lookup(l.ctx, cand.id); ok {
			c.finishCandidate(l, cand, asset)
			return
		}
		if miss == nil {
			miss = cand
		}
	}
	if miss == nil {
		if l.ctx.Err() == nil {
			c.mu.Lock()
			if c.trackedLocked(l) {
				c.releaseLocked(l)
			}
			c.unlockAndFlush()
			return
		}
		miss = &l.candidates[0]
	}
	c.fetch(l, miss)
}

func (c *Coordinator[ID, A]) lookup(ctx context.Context, id ID) (A, bool) {
	var zero A
	if c.cache == nil {
		return zero, false
	}
	asset, ok, err := c.cache.Lookup(ctx, id)
	if err != nil {
		c.logger.Debug("cache lookup failed", zap.Any("id", id), zap.Error(err))
		return zero, false
	}
	if !ok {
		return zero, false
	}
	return asset, true
}

func (c *Coordinator[ID, A]) finishCandidate(l *load[ID, A], cand *candidate[ID, A], asset A) {
	c.mu.Lock()
	if c.trackedLocked(l) {
		l.id = cand.id
		l.rank = cand.rank
	}
	c.mu.Unlock()
	c.finish(l, asset, nil, false)
}

// fetch starts the network fetch of l. cand is the filler candidate, nil for
// the best load.
func (c *Coordinator[ID, A]) fetch(l *load[ID, A], cand *candidate[ID, A]) {
	c.mu.Lock()
	if !c.trackedLocked(l) {
		if cand != nil && l.superseded {
			id := cand.id
			err := fmt.Errorf("filler %v abandoned: %w", id, ErrBestImageIdentifierChanged)
			c.logger.Debug("filler abandoned before fetch", zap.String("load", l.handle), zap.Any("id", id))
			c.emit(func(d Delegate[ID, A]) { d.FetchFinished(id, err) })
		}
		c.unlockAndFlush()
		return
	}
	if cand != nil {
		l.id = cand.id
		l.rank = cand.rank
		l.locator = cand.res.Locator
	}
	id, loc := l.id, l.locator
	if c.fetcher == nil {
		c.releaseLocked(l)
		err := fmt.Errorf("fetch %v: %w", id, ErrNoFetcher)
		c.emit(func(d Delegate[ID, A]) { d.FetchFinished(id, err) })
		c.unlockAndFlush()
		return
	}
	l.started = true
	c.logger.Debug("fetch started",
		zap.String("load", l.handle), zap.Stringer("role", l.role), zap.Any("id", id), zap.String("locator", string(loc)))
	c.emit(func(d Delegate[ID, A]) { d.FetchStarted(id) })
	c.unlockAndFlush()

	asset, err := c.fetcher.Fetch(l.ctx, loc, func(fraction float64) {
		c.reportProgress(l, fraction)
	})
	c.finish(l, asset, err, true)
}

func (c *Coordinator[ID, A]) reportProgress(l *load[ID, A], fraction float64) {
	c.mu.Lock()
	if !c.trackedLocked(l) || !l.started {
		c.mu.Unlock()
		return
	}
	fraction = min(max(fraction, 0), 1)
	if l.progressed && fraction <= l.progress {
		c.mu.Unlock()
		return
	}
	l.progress = fraction
	l.progressed = true
	id := l.id
	c.emit(func(d Delegate[ID, A]) { d.FetchProgress(id, fraction) })
	c.unlockAndFlush()
}

// finish applies the outcome of l. network is false for cache hits and data
// source assets, which produce no fetch notifications.
func (c *Coordinator[ID, A]) finish(l *load[ID, A], asset A, err error, network bool) {
	c.mu.Lock()
	if !c.trackedLocked(l) {
		c.logger.Debug("discarding result of cancelled load",
			zap.String("load", l.handle), zap.Any("id", l.id), zap.Error(err))
		c.mu.Unlock()
		return
	}
	c.releaseLocked(l)
	id, rank := l.id, l.rank
	if network {
		c.emit(func(d Delegate[ID, A]) { d.FetchFinished(id, err) })
	}
	if err != nil {
		c.logger.Debug("load failed",
			zap.String("load", l.handle), zap.Stringer("role", l.role), zap.Any("id", id), zap.Error(err))
		c.unlockAndFlush()
		return
	}
	c.applyLocked(id, rank, asset)
	if l.role == roleBest {
		c.cancelLocked(c.filler, false)
	}
	if network {
		c.storeLocked(id, asset)
	}
	c.unlockAndFlush()
}

// storeLocked writes a fetched asset back to the cache in the background. Wait
// covers write-backs still running.
func (c *Coordinator[ID, A]) storeLocked(id ID, asset A) {
	w, ok := c.cache.(CacheWriter[ID, A])
	if !ok {
		return
	}
	c.storing++
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := w.Store(ctx, id, asset); err != nil {
			c.logger.Warn("cache store failed", zap.Any("id", id), zap.Error(err))
		}
		c.mu.Lock()
		c.storing--
		c.unlockAndFlush()
	}()
}
