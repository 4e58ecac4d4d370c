// Package multiplex coordinates progressive loading of an image that exists in
// several quality tiers. The caller ranks identifiers from best to worst and the
// Coordinator decides what to load next, from where, and which in-flight work
// has become irrelevant.
package multiplex

import "context"

// Resolver turns an identifier into a directly available asset, a locator to
// fetch, or nothing. It is called synchronously while the coordinator holds
// its lock and must not call back into the coordinator.
type Resolver[ID comparable, A any] interface {
	Resolve(id ID) Resolution[A]
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc[ID comparable, A any] func(id ID) Resolution[A]

func (f ResolverFunc[ID, A]) Resolve(id ID) Resolution[A] { return f(id) }

// AssetSource is the optional data source capability for identifiers whose
// asset is already in memory.
type AssetSource[ID comparable, A any] interface {
	AssetFor(id ID) (A, bool)
}

// LocatorSource is the optional data source capability for identifiers that
// have to be fetched.
type LocatorSource[ID comparable] interface {
	LocatorFor(id ID) (Locator, bool)
}

// Cache looks up assets that were loaded before. Errors are treated as misses.
// Lookup may block; it runs on the load's goroutine.
type Cache[ID comparable, A any] interface {
	Lookup(ctx context.Context, id ID) (A, bool, error)
}

// CacheWriter is implemented by caches that accept assets fetched from the
// network.
type CacheWriter[ID comparable, A any] interface {
	Store(ctx context.Context, id ID, asset A) error
}

// Fetcher retrieves the asset behind a locator. It blocks until the asset is
// available or ctx is cancelled, calling progress with fractions in [0,1].
type Fetcher[A any] interface {
	Fetch(ctx context.Context, loc Locator, progress func(fraction float64)) (A, error)
}

// Delegate receives lifecycle notifications. Notifications are delivered one
// at a time, in order, never while the coordinator lock is held.
type Delegate[ID comparable, A any] interface {
	// FetchStarted is called when a network fetch begins. Cache hits and
	// data source assets never produce it.
	FetchStarted(id ID)
	// FetchProgress reports a non-decreasing fraction in [0,1].
	FetchProgress(id ID, fraction float64)
	// FetchFinished is the terminal notification of a fetch. err is nil on
	// success. It is also used to surface ErrNoSourceForImage and
	// ErrBestImageIdentifierChanged.
	FetchFinished(id ID, err error)
	// AssetUpdated reports a newly loaded version. Either argument may be nil.
	AssetUpdated(current, previous *Version[ID, A])
	// DisplayUpdated is called only when the displayed version changes.
	DisplayUpdated(current *Version[ID, A])
	// DisplayFinished is called after every display.
	DisplayFinished()
}

// BaseDelegate implements every Delegate method as a no-op. Embed it to
// implement only the notifications you care about.
type BaseDelegate[ID comparable, A any] struct{}

func (BaseDelegate[ID, A]) FetchStarted(ID)                   {}
func (BaseDelegate[ID, A]) FetchProgress(ID, float64)         {}
func (BaseDelegate[ID, A]) FetchFinished(ID, error)           {}
func (BaseDelegate[ID, A]) AssetUpdated(_, _ *Version[ID, A]) {}
func (BaseDelegate[ID, A]) DisplayUpdated(*Version[ID, A])    {}
func (BaseDelegate[ID, A]) DisplayFinished()                  {}
