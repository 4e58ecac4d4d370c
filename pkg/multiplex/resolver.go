package multiplex

// ResolverFor adapts a data source to a Resolver. A data source that already
// implements Resolver is returned as is. Otherwise AssetSource is consulted
// before LocatorSource, and a data source implementing neither (including nil)
// resolves nothing.
func ResolverFor[ID comparable, A any](dataSource any) Resolver[ID, A] {
	if r, ok := dataSource.(Resolver[ID, A]); ok {
		return r
	}
	r := &sourceResolver[ID, A]{}
	r.assets, _ = dataSource.(AssetSource[ID, A])
	r.locators, _ = dataSource.(LocatorSource[ID])
	return r
}

// Immutable
type sourceResolver[ID comparable, A any] struct {
	assets   AssetSource[ID, A]
	locators LocatorSource[ID]
}

func (r *sourceResolver[ID, A]) Resolve(id ID) Resolution[A] {
	if r.assets != nil {
		if asset, ok := r.assets.AssetFor(id); ok {
			return AssetResolution(asset)
		}
	}
	if r.locators != nil {
		if loc, ok := r.locators.LocatorFor(id); ok && loc != "" {
			return LocatorResolution[A](loc)
		}
	}
	return NoResolution[A]()
}
