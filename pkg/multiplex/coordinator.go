package multiplex

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Config wires the collaborators of a Coordinator. Every field is optional.
type Config[ID comparable, A any] struct {
	// DataSource is adapted with ResolverFor. A nil data source resolves nothing.
	DataSource any
	// Cache is consulted before every fetch. Nil means every lookup misses.
	Cache Cache[ID, A]
	// Fetcher loads locators.
	Fetcher Fetcher[A]
	// Delegate receives notifications. Nil means no notifications.
	Delegate Delegate[ID, A]
	// IntermediateFill enables filler loads of lower-quality identifiers.
	IntermediateFill bool
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// slot is a loaded version and its rank in the current ranking.
type slot[ID comparable, A any] struct {
	id    ID
	asset A
	rank  int
}

func (s *slot[ID, A]) version() *Version[ID, A] {
	if s == nil {
		return nil
	}
	return &Version[ID, A]{ID: s.id, Asset: s.asset}
}

// Coordinator owns the ranking and the loaded/displayed state of one image and
// decides what to load next. All state is guarded by mu; gateway goroutines
// re-enter through the lock and are matched by load handle identity.
// Mutable
type Coordinator[ID comparable, A any] struct {
	resolver Resolver[ID, A]
	cache    Cache[ID, A]
	fetcher  Fetcher[A]
	logger   *zap.Logger

	mu        sync.Mutex
	delegate  Delegate[ID, A]
	ranking   []ID
	fill      bool
	loaded    *slot[ID, A]
	displayed *slot[ID, A]
	best      *load[ID, A]
	filler    *load[ID, A]
	closed    bool
	storing   int

	outbox     []func(Delegate[ID, A])
	delivering bool
	idle       chan struct{}
	idleClosed bool
}

// New creates a Coordinator with an empty ranking.
func New[ID comparable, A any](cfg Config[ID, A]) *Coordinator[ID, A] {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	idle := make(chan struct{})
	close(idle)
	return &Coordinator[ID, A]{
		resolver:   ResolverFor[ID, A](cfg.DataSource),
		cache:      cfg.Cache,
		fetcher:    cfg.Fetcher,
		logger:     logger,
		delegate:   cfg.Delegate,
		fill:       cfg.IntermediateFill,
		idle:       idle,
		idleClosed: true,
	}
}

// SetRanking replaces the ranking (best first) and restarts resolution. The
// slice is copied. It returns an error wrapping ErrNoSourceForImage when no
// identifier resolves, and ErrClosed after Close.
func (c *Coordinator[ID, A]) SetRanking(ids []ID) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.ranking = slices.Clone(ids)
	c.rerankLocked()
	err := c.resolveLocked()
	c.unlockAndFlush()
	return err
}

// ReloadSources asks the data source again for the current ranking, loading
// anything better than what is displayed.
func (c *Coordinator[ID, A]) ReloadSources() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	err := c.resolveLocked()
	c.unlockAndFlush()
	return err
}

// SetIntermediateFillEnabled toggles filler loads. Enabling it while the best
// load is outstanding starts a filler selection; disabling it cancels the
// current filler.
func (c *Coordinator[ID, A]) SetIntermediateFillEnabled(enabled bool) {
	c.mu.Lock()
	if c.closed || c.fill == enabled {
		c.fill = enabled
		c.unlockAndFlush()
		return
	}
	c.fill = enabled
	if !enabled {
		c.cancelLocked(c.filler, false)
	} else if c.best != nil && c.filler == nil {
		c.selectFillerLocked(c.best.rank)
	}
	c.unlockAndFlush()
}

// SetDelegate replaces the delegate. Notifications already queued are
// delivered to the new delegate.
func (c *Coordinator[ID, A]) SetDelegate(d Delegate[ID, A]) {
	c.mu.Lock()
	c.delegate = d
	c.mu.Unlock()
}

// Close cancels every load. No notification is delivered after Close returns,
// except one that was already being delivered on another goroutine.
func (c *Coordinator[ID, A]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancelLocked(c.best, false)
	c.cancelLocked(c.filler, false)
	c.ranking = nil
	c.outbox = nil
	c.syncIdleLocked()
}

// Ranking returns a copy of the current ranking.
func (c *Coordinator[ID, A]) Ranking() []ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.ranking)
}

// LoadedIdentifier returns the identifier of the last loaded version. A
// version is loaded only when it is accepted for display, so this always
// matches DisplayedIdentifier; a result that is not better than the displayed
// version is dropped rather than kept as loaded.
func (c *Coordinator[ID, A]) LoadedIdentifier() (ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded == nil {
		var zero ID
		return zero, false
	}
	return c.loaded.id, true
}

// DisplayedIdentifier returns the identifier of the displayed version.
func (c *Coordinator[ID, A]) DisplayedIdentifier() (ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.displayed == nil {
		var zero ID
		return zero, false
	}
	return c.displayed.id, true
}

// Displayed returns the displayed version, or nil.
func (c *Coordinator[ID, A]) Displayed() *Version[ID, A] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayed.version()
}

// State reports the conceptual load state.
func (c *Coordinator[ID, A]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.best != nil && c.filler != nil:
		return StateLoadingBestWithFiller
	case c.best != nil:
		return StateLoadingBest
	case c.filler != nil:
		return StateLoadingFiller
	case c.displayed != nil && len(c.ranking) > 0:
		return StateSettled
	default:
		return StateIdle
	}
}

// Wait blocks until no load or cache write-back is outstanding and every
// queued notification has been delivered. It must not be called from a
// Delegate method.
func (c *Coordinator[ID, A]) Wait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rerankLocked re-ranks the loaded and displayed versions against a new
// ranking. Identifiers missing from it rank below every slot.
func (c *Coordinator[ID, A]) rerankLocked() {
	for _, s := range []*slot[ID, A]{c.loaded, c.displayed} {
		if s == nil {
			continue
		}
		s.rank = slices.Index(c.ranking, s.id)
		if s.rank < 0 {
			s.rank = len(c.ranking)
		}
	}
}

// resolveLocked runs one resolution pass over the current ranking.
func (c *Coordinator[ID, A]) resolveLocked() error {
	if len(c.ranking) == 0 {
		c.cancelLocked(c.best, false)
		c.cancelLocked(c.filler, false)
		c.clearLocked()
		return nil
	}

	bestRank := -1
	var res Resolution[A]
	for i, id := range c.ranking {
		res = c.resolver.Resolve(id)
		if res.Kind != ResolvedNone {
			bestRank = i
			break
		}
	}

	if bestRank < 0 {
		c.cancelLocked(c.best, false)
		c.dropFillerLocked()
		first := c.ranking[0]
		err := fmt.Errorf("%d identifiers without asset or locator: %w", len(c.ranking), ErrNoSourceForImage)
		c.logger.Debug("no source for any identifier", zap.Any("first", first), zap.Int("count", len(c.ranking)))
		c.emit(func(d Delegate[ID, A]) { d.FetchFinished(first, err) })
		return err
	}

	id := c.ranking[bestRank]
	if c.displayed != nil && c.displayed.rank <= bestRank {
		c.cancelLocked(c.best, false)
		c.dropFillerLocked()
		return nil
	}

	if res.Kind == ResolvedAsset {
		c.cancelLocked(c.best, false)
		c.dropFillerLocked()
		c.applyLocked(id, bestRank, res.Asset)
		return nil
	}

	if b := c.best; b != nil && b.id == id && b.locator == res.Locator {
		b.rank = bestRank
		c.logger.Debug("keeping best load", zap.String("load", b.handle), zap.Any("id", id), zap.Int("rank", bestRank))
	} else {
		c.cancelLocked(c.best, false)
		c.best = c.newLoadLocked(roleBest, id, bestRank, res.Locator)
		go c.runBest(c.best)
	}

	if c.fill {
		c.selectFillerLocked(bestRank)
	} else {
		c.dropFillerLocked()
	}
	return nil
}

// selectFillerLocked looks for a placeholder among the identifiers worse than
// bestRank and better than the displayed version. A direct asset at the head
// of the candidates is applied at once; anything else goes to a filler load.
// A filler already fetching the head candidate for the same best load is kept.
func (c *Coordinator[ID, A]) selectFillerLocked(bestRank int) {
	limit := len(c.ranking)
	if c.displayed != nil && c.displayed.rank < limit {
		limit = c.displayed.rank
	}

	var candidates []candidate[ID, A]
	for i := bestRank + 1; i < limit; i++ {
		id := c.ranking[i]
		res := c.resolver.Resolve(id)
		if res.Kind == ResolvedNone {
			continue
		}
		if res.Kind == ResolvedAsset && len(candidates) == 0 {
			c.dropFillerLocked()
			c.applyLocked(id, i, res.Asset)
			return
		}
		candidates = append(candidates, candidate[ID, A]{id: id, rank: i, res: res})
		if res.Kind == ResolvedAsset {
			// Nothing worse can beat an asset that needs no fetch.
			break
		}
	}
	if len(candidates) == 0 {
		c.dropFillerLocked()
		return
	}

	head := candidates[0]
	if f := c.filler; f != nil && f.started && f.forBest == c.best &&
		f.id == head.id && f.locator == head.res.Locator {
		// The fetch has started, so runFiller no longer reads the candidates.
		f.rank = head.rank
		f.candidates = candidates
		c.logger.Debug("keeping filler load", zap.String("load", f.handle), zap.Any("id", f.id), zap.Int("rank", f.rank))
		return
	}
	c.dropFillerLocked()

	f := c.newLoadLocked(roleFiller, candidates[0].id, candidates[0].rank, "")
	f.forBest = c.best
	f.candidates = candidates
	c.filler = f
	go c.runFiller(f)
}

// dropFillerLocked cancels the current filler. A filler
// whose best load did not survive is marked superseded.
func (c *Coordinator[ID, A]) dropFillerLocked() {
	if f := c.filler; f != nil {
		c.cancelLocked(f, f.forBest != c.best)
	}
}

// applyLocked is the load-result rule: a version replaces the displayed one
// only when it ranks strictly better.
func (c *Coordinator[ID, A]) applyLocked(id ID, rank int, asset A) {
	if c.displayed != nil && c.displayed.rank <= rank {
		c.logger.Debug("ignoring version no better than displayed",
			zap.Any("id", id), zap.Int("rank", rank), zap.Int("displayed_rank", c.displayed.rank))
		return
	}
	previous := c.displayed.version()
	s := &slot[ID, A]{id: id, asset: asset, rank: rank}
	c.loaded = s
	c.displayed = s
	current := s.version()
	c.emit(func(d Delegate[ID, A]) { d.AssetUpdated(current, previous) })
	c.emit(func(d Delegate[ID, A]) { d.DisplayUpdated(current) })
	c.emit(func(d Delegate[ID, A]) { d.DisplayFinished() })
}

func (c *Coordinator[ID, A]) clearLocked() {
	if c.displayed == nil && c.loaded == nil {
		return
	}
	previous := c.displayed.version()
	c.loaded = nil
	c.displayed = nil
	c.emit(func(d Delegate[ID, A]) { d.AssetUpdated(nil, previous) })
	c.emit(func(d Delegate[ID, A]) { d.DisplayUpdated(nil) })
}

// emit queues a notification. It is delivered by unlockAndFlush.
func (c *Coordinator[ID, A]) emit(n func(Delegate[ID, A])) {
	if c.closed || c.delegate == nil {
		return
	}
	c.outbox = append(c.outbox, n)
}

// unlockAndFlush releases mu after delivering queued notifications. Only one
// goroutine delivers at a time; others leave their notifications to it, which
// keeps delivery totally ordered and lets delegates call back in.
func (c *Coordinator[ID, A]) unlockAndFlush() {
	c.syncIdleLocked()
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.outbox) > 0 && !c.closed {
		batch := c.outbox
		c.outbox = nil
		d := c.delegate
		c.mu.Unlock()
		if d != nil {
			for _, n := range batch {
				n(d)
			}
		}
		c.mu.Lock()
	}
	c.outbox = nil
	c.delivering = false
	c.syncIdleLocked()
	c.mu.Unlock()
}

func (c *Coordinator[ID, A]) busyLocked() bool {
	return c.best != nil || c.filler != nil || c.storing > 0 || c.delivering || len(c.outbox) > 0
}

// syncIdleLocked keeps the idle channel open while work is outstanding and
// closed otherwise.
func (c *Coordinator[ID, A]) syncIdleLocked() {
	if c.busyLocked() && !c.closed {
		if c.idleClosed {
			c.idle = make(chan struct{})
			c.idleClosed = false
		}
		return
	}
	if !c.idleClosed {
		close(c.idle)
		c.idleClosed = true
	}
}
