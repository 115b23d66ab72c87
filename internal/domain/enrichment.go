package domain

import (
	"time"
)

// Category groups related criteria. Categories are scored independently and
// then combined into the final score.
type Category string

const (
	CategoryInfrastructure         Category = "infrastructure"
	CategoryInfrastructureExtended Category = "infrastructure_extended"
	CategoryTransport              Category = "transport"
	CategoryEnvironment            Category = "environment"
	CategoryNeighborhood           Category = "neighborhood"
	CategoryServicesQuality        Category = "services_quality"
	CategoryLegalStatus            Category = "legal_status"
)

// Categories lists every category in the fixed order used for summation.
var Categories = []Category{
	CategoryInfrastructure,
	CategoryInfrastructureExtended,
	CategoryTransport,
	CategoryEnvironment,
	CategoryNeighborhood,
	CategoryServicesQuality,
	CategoryLegalStatus,
}

// Mandatory reports whether a listing cannot be scored without the category.
func (c Category) Mandatory() bool {
	return c == CategoryInfrastructure || c == CategoryTransport
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Status tags the completeness of a fragment or category.
type Status string

const (
	StatusOK          Status = "ok"
	StatusPartial     Status = "partial"
	StatusUnavailable Status = "unavailable"
)

// Proximity is the result of a nearest-feature search. Found=false means the
// search succeeded and nothing lies within RadiusM.
type Proximity struct {
	Found     bool    `json:"found"`
	DistanceM float64 `json:"distance_m,omitempty"`
	RadiusM   float64 `json:"radius_m"`
	Name      string  `json:"name,omitempty"`
}

// InfrastructureData holds utility presence and road access flags.
type InfrastructureData struct {
	Electricity *bool `json:"electricity,omitempty"`
	Water       *bool `json:"water,omitempty"`
	Telecom     *bool `json:"telecom,omitempty"`
	Gas         *bool `json:"gas,omitempty"`
	RoadAccess  *bool `json:"road_access,omitempty"`
}

// ExtendedInfrastructureData holds the nearest amenity of each kind, keyed by
// amenity name (supermarket, school, hospital, pharmacy).
type ExtendedInfrastructureData struct {
	Amenities map[string]Proximity `json:"amenities,omitempty"`
}

// TransportData holds transit proximity and travel times to reference points
// in minutes, keyed by reference point name.
type TransportData struct {
	TransitStop    *Proximity         `json:"transit_stop,omitempty"`
	TrainStation   *Proximity         `json:"train_station,omitempty"`
	TravelTimesMin map[string]float64 `json:"travel_times_min,omitempty"`
}

// EnvironmentData holds green-space proximity and noise/pollution proxies.
type EnvironmentData struct {
	GreenSpace       *Proximity `json:"green_space,omitempty"`
	MajorRoadNearby  *bool      `json:"major_road_nearby,omitempty"`
	RailwayNearby    *bool      `json:"railway_nearby,omitempty"`
	IndustrialNearby *bool      `json:"industrial_nearby,omitempty"`
}

// NeighborhoodData holds amenity counts keyed by kind (restaurant, school,
// service).
type NeighborhoodData struct {
	Counts map[string]int `json:"counts,omitempty"`
}

// ServicesData holds average ratings on the provider's native scale, keyed by
// kind (school, restaurant, cafe). Kinds without rated places are absent.
type ServicesData struct {
	Ratings map[string]float64 `json:"ratings,omitempty"`
	Scale   float64            `json:"scale"`
}

// LegalData holds zoning flags parsed from the listing.
type LegalData struct {
	Buildable *bool `json:"buildable,omitempty"`
	Urbanized *bool `json:"urbanized,omitempty"`
}

// Fragment is one provider's contribution to one category. Exactly one of
// the data pointers matching Category is set unless Status is unavailable.
type Fragment struct {
	Category  Category    `json:"category"`
	Provider  string      `json:"provider"`
	Status    Status      `json:"status"`
	FetchedAt time.Time   `json:"fetched_at"`
	Attempts  int         `json:"attempts"`
	Failure   FailureKind `json:"failure,omitempty"`

	Infrastructure *InfrastructureData         `json:"infrastructure,omitempty"`
	Extended       *ExtendedInfrastructureData `json:"extended,omitempty"`
	Transport      *TransportData              `json:"transport,omitempty"`
	Environment    *EnvironmentData            `json:"environment,omitempty"`
	Neighborhood   *NeighborhoodData           `json:"neighborhood,omitempty"`
	Services       *ServicesData               `json:"services,omitempty"`
	Legal          *LegalData                  `json:"legal,omitempty"`
}

// UnavailableFragment builds a fragment that carries no values.
func UnavailableFragment(category Category, provider string, at time.Time, attempts int, kind FailureKind) Fragment {
	return Fragment{
		Category:  category,
		Provider:  provider,
		Status:    StatusUnavailable,
		FetchedAt: at,
		Attempts:  attempts,
		Failure:   kind,
	}
}

// Usable reports whether the fragment may contribute values.
func (f Fragment) Usable() bool {
	return f.Status == StatusOK || f.Status == StatusPartial
}

// EnrichmentState is the outcome of an enrichment run.
type EnrichmentState string

const (
	StatePending           EnrichmentState = "pending"
	StateDispatching       EnrichmentState = "dispatching"
	StatePartiallyEnriched EnrichmentState = "partially_enriched"
	StateFullyEnriched     EnrichmentState = "fully_enriched"
	StateFailed            EnrichmentState = "failed"
)

// Final reports whether the state ends a run.
func (s EnrichmentState) Final() bool {
	return s == StatePartiallyEnriched || s == StateFullyEnriched || s == StateFailed
}

// EnrichmentRecord holds all fragments from one enrichment run. A new run
// replaces the record wholesale.
type EnrichmentRecord struct {
	ListingID  string          `json:"listing_id"`
	RunID      string          `json:"run_id"`
	State      EnrichmentState `json:"state"`
	Fragments  []Fragment      `json:"fragments"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// CategoryFragments returns the fragments for a category in record order.
func (r EnrichmentRecord) CategoryFragments(c Category) []Fragment {
	var out []Fragment
	for _, f := range r.Fragments {
		if f.Category == c {
			out = append(out, f)
		}
	}
	return out
}

// CategoryStatus derives a category status from its fragments: ok when all
// are ok, unavailable when all are unavailable or none exist, partial
// otherwise.
func (r EnrichmentRecord) CategoryStatus(c Category) Status {
	frags := r.CategoryFragments(c)
	if len(frags) == 0 {
		return StatusUnavailable
	}
	ok, unavailable := 0, 0
	for _, f := range frags {
		switch f.Status {
		case StatusOK:
			ok++
		case StatusUnavailable:
			unavailable++
		}
	}
	switch {
	case ok == len(frags):
		return StatusOK
	case unavailable == len(frags):
		return StatusUnavailable
	default:
		return StatusPartial
	}
}
