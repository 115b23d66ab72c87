package domain

import "context"

// ListingContext carries listing details an adapter may need besides the
// coordinates.
type ListingContext struct {
	ListingID   string
	Address     string
	Description string
	LegalStatus string
	LandType    string
}

// ContextFor builds a ListingContext from a raw listing.
func ContextFor(l RawListing) ListingContext {
	return ListingContext{
		ListingID:   l.ID,
		Address:     l.Address,
		Description: l.Description,
		LegalStatus: l.LegalStatus,
		LandType:    l.LandType,
	}
}

// Adapter wraps one external data source for one category. Implementations
// return a fragment or an *AdapterFailure; they never substitute defaults for
// values they could not obtain.
type Adapter interface {
	// Name identifies the provider and is recorded on every fragment.
	Name() string

	// Category is the category the adapter's fragments belong to.
	Category() Category

	// Fetch queries the provider. The caller bounds ctx with the per-call
	// timeout.
	Fetch(ctx context.Context, coords Coordinates, lc ListingContext) (Fragment, error)
}
