package multiplex

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSourceForImage means no identifier in the ranking resolved to an
	// asset or a locator.
	ErrNoSourceForImage = errors.New("no source for image")
	// ErrBestImageIdentifierChanged means a filler fetch was abandoned before
	// it started because the best identifier changed.
	ErrBestImageIdentifierChanged = errors.New("best image identifier changed")
	// ErrClosed is returned by mutating calls after Close.
	ErrClosed = errors.New("coordinator closed")
	// ErrNoFetcher means a locator was resolved but no Fetcher is configured.
	ErrNoFetcher = errors.New("no fetcher configured")
)

// Locator is an opaque reference a Fetcher can load, usually a URI.
type Locator string

// ResolutionKind tags the outcome of resolving one identifier.
type ResolutionKind int

const (
	ResolvedNone ResolutionKind = iota
	ResolvedAsset
	ResolvedLocator
)

func (k ResolutionKind) String() string {
	switch k {
	case ResolvedAsset:
		return "asset"
	case ResolvedLocator:
		return "locator"
	default:
		return "none"
	}
}

// Resolution is exactly one of an asset, a locator, or nothing.
type Resolution[A any] struct {
	Kind    ResolutionKind
	Asset   A
	Locator Locator
}

// AssetResolution resolves to an asset that is already available.
func AssetResolution[A any](asset A) Resolution[A] {
	return Resolution[A]{Kind: ResolvedAsset, Asset: asset}
}

// LocatorResolution resolves to a locator that must be fetched.
func LocatorResolution[A any](loc Locator) Resolution[A] {
	return Resolution[A]{Kind: ResolvedLocator, Locator: loc}
}

// NoResolution marks an identifier as unavailable for this pass.
func NoResolution[A any]() Resolution[A] {
	return Resolution[A]{}
}

// Version is a loaded asset together with its identifier.
type Version[ID comparable, A any] struct {
	ID    ID
	Asset A
}

func (v *Version[ID, A]) String() string {
	if v == nil {
		return "<none>"
	}
	return fmt.Sprint(v.ID)
}

// State is the coordinator's conceptual load state.
type State int

const (
	StateIdle State = iota
	// StateResolvingBest only exists while the coordinator lock is held and
	// is never returned by State.
	StateResolvingBest
	StateLoadingBest
	StateLoadingBestWithFiller
	// StateLoadingFiller is entered when the best load failed while a filler
	// load is still outstanding.
	StateLoadingFiller
	// StateSettled means something is displayed and nothing is outstanding.
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolvingBest:
		return "resolving-best"
	case StateLoadingBest:
		return "loading-best"
	case StateLoadingBestWithFiller:
		return "loading-best-with-filler"
	case StateLoadingFiller:
		return "loading-filler"
	case StateSettled:
		return "settled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
