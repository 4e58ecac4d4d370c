package multiplex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

const testTimeout = 5 * time.Second

// event is one recorded delegate notification.
type event struct {
	Kind     string
	ID       string
	Fraction float64
	Err      string
	Asset    string
	Previous string
}

func (e event) String() string {
	return fmt.Sprintf("%s(%s)", e.Kind, e.ID)
}

// recorder is a Delegate that records every notification.
type recorder struct {
	mu     sync.Mutex
	events []event
	errs   map[string]error
}

func newRecorder() *recorder {
	return &recorder{errs: make(map[string]error)}
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) FetchStarted(id string) { r.add(event{Kind: "started", ID: id}) }

func (r *recorder) FetchProgress(id string, fraction float64) {
	r.add(event{Kind: "progress", ID: id, Fraction: fraction})
}

func (r *recorder) FetchFinished(id string, err error) {
	e := event{Kind: "finished", ID: id}
	if err != nil {
		e.Err = err.Error()
		r.mu.Lock()
		r.errs[id] = err
		r.mu.Unlock()
	}
	r.add(e)
}

func (r *recorder) AssetUpdated(current, previous *Version[string, string]) {
	e := event{Kind: "updated"}
	if current != nil {
		e.ID, e.Asset = current.ID, current.Asset
	}
	if previous != nil {
		e.Previous = previous.ID
	}
	r.add(e)
}

func (r *recorder) DisplayUpdated(current *Version[string, string]) {
	e := event{Kind: "displayed"}
	if current != nil {
		e.ID, e.Asset = current.ID, current.Asset
	}
	r.add(e)
}

func (r *recorder) DisplayFinished() { r.add(event{Kind: "display-finished"}) }

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func (r *recorder) err(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[id]
}

func (r *recorder) of(kind string) []event {
	var out []event
	for _, e := range r.snapshot() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) has(kind, id string) bool {
	for _, e := range r.snapshot() {
		if e.Kind == kind && e.ID == id {
			return true
		}
	}
	return false
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitIdle(t *testing.T, c *Coordinator[string, string]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
}

// source is a data source with separate asset and locator tables.
type source struct {
	mu       sync.Mutex
	assets   map[string]string
	locators map[string]Locator
	calls    map[string]int
}

func newSource() *source {
	return &source{
		assets:   make(map[string]string),
		locators: make(map[string]Locator),
		calls:    make(map[string]int),
	}
}

func (s *source) AssetFor(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[id]++
	a, ok := s.assets[id]
	return a, ok
}

func (s *source) LocatorFor(id string) (Locator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locators[id]
	return l, ok
}

func (s *source) resolved(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

// pendingFetch is one call into fakeFetcher, completed by the test.
type pendingFetch struct {
	ctx      context.Context
	progress func(float64)
	done     chan fetchResult
}

type fetchResult struct {
	asset string
	err   error
}

func (p *pendingFetch) report(f float64)     { p.progress(f) }
func (p *pendingFetch) succeed(asset string) { p.done <- fetchResult{asset: asset} }
func (p *pendingFetch) fail(err error)       { p.done <- fetchResult{err: err} }
func (p *pendingFetch) cancelled() bool      { return p.ctx.Err() != nil }

// fakeFetcher blocks every fetch until the test completes it. With
// ignoreCancel the fetch keeps waiting after its context is cancelled, which
// simulates a terminal event racing a cancellation.
type fakeFetcher struct {
	ignoreCancel bool

	mu      sync.Mutex
	pending map[Locator][]*pendingFetch
	count   map[Locator]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pending: make(map[Locator][]*pendingFetch),
		count:   make(map[Locator]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, loc Locator, progress func(float64)) (string, error) {
	p := &pendingFetch{ctx: ctx, progress: progress, done: make(chan fetchResult, 1)}
	f.mu.Lock()
	f.pending[loc] = append(f.pending[loc], p)
	f.count[loc]++
	f.mu.Unlock()
	if f.ignoreCancel {
		r := <-p.done
		return r.asset, r.err
	}
	select {
	case r := <-p.done:
		return r.asset, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// await returns the oldest uncollected fetch of loc.
func (f *fakeFetcher) await(t *testing.T, loc Locator) *pendingFetch {
	t.Helper()
	var p *pendingFetch
	waitFor(t, "fetch of "+string(loc), func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.pending[loc]) == 0 {
			return false
		}
		p = f.pending[loc][0]
		f.pending[loc] = f.pending[loc][1:]
		return true
	})
	return p
}

func (f *fakeFetcher) fetches(loc Locator) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count[loc]
}

// fakeCache serves fixed hits. Lookups of ids in block wait until the test
// releases them.
type fakeCache struct {
	mu      sync.Mutex
	hits    map[string]string
	block   map[string]chan struct{}
	entered map[string]bool
	stored  map[string]string
	lookups map[string]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		hits:    make(map[string]string),
		block:   make(map[string]chan struct{}),
		entered: make(map[string]bool),
		stored:  make(map[string]string),
		lookups: make(map[string]int),
	}
}

var errCacheDown = errors.New("cache down")

func (c *fakeCache) Lookup(ctx context.Context, id string) (string, bool, error) {
	c.mu.Lock()
	c.lookups[id]++
	c.entered[id] = true
	gate := c.block[id]
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "broken" {
		return "", false, errCacheDown
	}
	a, ok := c.hits[id]
	return a, ok, nil
}

func (c *fakeCache) Store(ctx context.Context, id string, asset string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored[id] = asset
	return nil
}

func (c *fakeCache) hold(id string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	gate := make(chan struct{})
	c.block[id] = gate
	return gate
}

func (c *fakeCache) hasEntered(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entered[id]
}

func (c *fakeCache) storedAsset(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.stored[id]
	return a, ok
}

// readOnlyCache hides the Store method of a fakeCache.
type readOnlyCache struct{ c *fakeCache }

func (r readOnlyCache) Lookup(ctx context.Context, id string) (string, bool, error) {
	return r.c.Lookup(ctx, id)
}
