package places

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/listing-score-service/internal/adapter/upstream"
	"github.com/couchcryptid/listing-score-service/internal/domain"
)

// Search groups the place types that make up one amenity kind.
type Search struct {
	Kind    string
	Types   []string
	RadiusM int
}

// DefaultAmenitySearches are the nearest-amenity searches. The radius is the
// distance beyond which the amenity counts as not found.
var DefaultAmenitySearches = []Search{
	{Kind: "supermarket", Types: []string{"supermarket"}, RadiusM: 5000},
	{Kind: "school", Types: []string{"primary_school", "secondary_school", "school"}, RadiusM: 5000},
	{Kind: "hospital", Types: []string{"hospital"}, RadiusM: 15000},
	{Kind: "pharmacy", Types: []string{"pharmacy"}, RadiusM: 5000},
}

// DefaultNeighborhoodSearches are the amenity count searches.
var DefaultNeighborhoodSearches = []Search{
	{Kind: "restaurant", Types: []string{"restaurant"}, RadiusM: 1000},
	{Kind: "school", Types: []string{"school"}, RadiusM: 1000},
	{Kind: "service", Types: []string{"bank", "post_office", "pharmacy", "doctor"}, RadiusM: 1000},
}

// DefaultRatingSearches are the service rating searches.
var DefaultRatingSearches = []Search{
	{Kind: "school", Types: []string{"school"}, RadiusM: 2000},
	{Kind: "restaurant", Types: []string{"restaurant"}, RadiusM: 2000},
	{Kind: "cafe", Types: []string{"cafe"}, RadiusM: 2000},
}

// RatingScale is the native Places rating scale.
const RatingScale = 5.0

type base struct {
	client   *Client
	searches []Search
	clock    clockwork.Clock
}

// run executes every search. A kind contributes only when all of its type
// requests succeeded; its results are merged and deduplicated by place id.
func (b base) run(ctx context.Context, name string, coords domain.Coordinates, rankByDistance bool) (map[string][]Place, domain.Status, error) {
	outcome := upstream.NewOutcome(name)
	found := make(map[string][]Place, len(b.searches))

	for _, s := range b.searches {
		var merged []Place
		seen := make(map[string]bool)
		var kindErr error
		for _, typ := range s.Types {
			res, err := b.client.Nearby(ctx, NearbyRequest{
				Lat:            coords.Lat,
				Lon:            coords.Lon,
				Type:           typ,
				RadiusM:        s.RadiusM,
				RankByDistance: rankByDistance,
			})
			if err != nil {
				kindErr = err
				break
			}
			for _, p := range res {
				if p.ID != "" && seen[p.ID] {
					continue
				}
				seen[p.ID] = true
				merged = append(merged, p)
			}
		}
		outcome.Record(kindErr)
		if kindErr == nil {
			found[s.Kind] = merged
		}
		if ctx.Err() != nil {
			break
		}
	}

	status, err := outcome.Status()
	return found, status, err
}

func (b base) fragment(name string, category domain.Category, status domain.Status) domain.Fragment {
	return domain.Fragment{
		Category:  category,
		Provider:  name,
		Status:    status,
		FetchedAt: b.clock.Now().UTC(),
	}
}

// AmenityAdapter reports the nearest supermarket, school, hospital and
// pharmacy (infrastructure_extended).
type AmenityAdapter struct{ base }

// NewAmenityAdapter creates the nearest-amenity adapter.
func NewAmenityAdapter(client *Client, clock clockwork.Clock, searches ...Search) *AmenityAdapter {
	if len(searches) == 0 {
		searches = DefaultAmenitySearches
	}
	return &AmenityAdapter{base{client: client, searches: searches, clock: domain.ClockOrReal(clock)}}
}

func (a *AmenityAdapter) Name() string              { return "places_amenities" }
func (a *AmenityAdapter) Category() domain.Category { return domain.CategoryInfrastructureExtended }

func (a *AmenityAdapter) Fetch(ctx context.Context, coords domain.Coordinates, _ domain.ListingContext) (domain.Fragment, error) {
	found, status, err := a.run(ctx, a.Name(), coords, true)
	if err != nil {
		return domain.Fragment{}, err
	}

	data := &domain.ExtendedInfrastructureData{Amenities: make(map[string]domain.Proximity, len(found))}
	for _, s := range a.searches {
		places, ok := found[s.Kind]
		if !ok {
			continue
		}
		data.Amenities[s.Kind] = nearest(places, float64(s.RadiusM))
	}

	f := a.fragment(a.Name(), a.Category(), status)
	f.Extended = data
	return f, nil
}

// NeighborhoodAdapter counts restaurants, schools and everyday services
// around the listing (neighborhood).
type NeighborhoodAdapter struct{ base }

// NewNeighborhoodAdapter creates the amenity count adapter. Nearby Search
// returns at most 20 results per request, so counts saturate there.
func NewNeighborhoodAdapter(client *Client, clock clockwork.Clock, searches ...Search) *NeighborhoodAdapter {
	if len(searches) == 0 {
		searches = DefaultNeighborhoodSearches
	}
	return &NeighborhoodAdapter{base{client: client, searches: searches, clock: domain.ClockOrReal(clock)}}
}

func (a *NeighborhoodAdapter) Name() string              { return "places_neighborhood" }
func (a *NeighborhoodAdapter) Category() domain.Category { return domain.CategoryNeighborhood }

func (a *NeighborhoodAdapter) Fetch(ctx context.Context, coords domain.Coordinates, _ domain.ListingContext) (domain.Fragment, error) {
	found, status, err := a.run(ctx, a.Name(), coords, false)
	if err != nil {
		return domain.Fragment{}, err
	}

	data := &domain.NeighborhoodData{Counts: make(map[string]int, len(found))}
	for _, s := range a.searches {
		places, ok := found[s.Kind]
		if !ok {
			continue
		}
		n := 0
		for _, p := range places {
			if p.DistanceM <= float64(s.RadiusM) {
				n++
			}
		}
		data.Counts[s.Kind] = n
	}

	f := a.fragment(a.Name(), a.Category(), status)
	f.Neighborhood = data
	return f, nil
}

// RatingAdapter averages provider ratings of nearby schools, restaurants and
// cafes (services_quality). Kinds with no rated place are left out.
type RatingAdapter struct{ base }

// NewRatingAdapter creates the service rating adapter.
func NewRatingAdapter(client *Client, clock clockwork.Clock, searches ...Search) *RatingAdapter {
	if len(searches) == 0 {
		searches = DefaultRatingSearches
	}
	return &RatingAdapter{base{client: client, searches: searches, clock: domain.ClockOrReal(clock)}}
}

func (a *RatingAdapter) Name() string              { return "places_ratings" }
func (a *RatingAdapter) Category() domain.Category { return domain.CategoryServicesQuality }

func (a *RatingAdapter) Fetch(ctx context.Context, coords domain.Coordinates, _ domain.ListingContext) (domain.Fragment, error) {
	found, status, err := a.run(ctx, a.Name(), coords, false)
	if err != nil {
		return domain.Fragment{}, err
	}

	data := &domain.ServicesData{Ratings: make(map[string]float64, len(found)), Scale: RatingScale}
	for _, s := range a.searches {
		var sum float64
		var n int
		for _, p := range found[s.Kind] {
			if p.Rating > 0 {
				sum += p.Rating
				n++
			}
		}
		if n > 0 {
			data.Ratings[s.Kind] = sum / float64(n)
		}
	}

	f := a.fragment(a.Name(), a.Category(), status)
	f.Services = data
	return f, nil
}

func nearest(places []Place, radiusM float64) domain.Proximity {
	p := domain.Proximity{RadiusM: radiusM}
	for _, pl := range places {
		if pl.DistanceM > radiusM {
			continue
		}
		if !p.Found || pl.DistanceM < p.DistanceM {
			p.Found = true
			p.DistanceM = pl.DistanceM
			p.Name = pl.Name
		}
	}
	return p
}
