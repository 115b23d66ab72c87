package overpass

import (
	"context"
	"regexp"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/listing-score-service/internal/domain"
)

// Search radii in meters.
const (
	utilityRadiusM     = 500
	roadAccessRadiusM  = 100
	transitStopRadiusM = 2000
	trainRadiusM       = 15000
	greenSpaceRadiusM  = 2000
	majorRoadRadiusM   = 150
	railwayRadiusM     = 200
	industrialRadiusM  = 500
	queryTimeoutSec    = 25
)

var (
	waterWorks   = regexp.MustCompile(`^(water_tower|water_works|pumping_station|reservoir_covered)$`)
	drivableRoad = regexp.MustCompile(`^(motorway|trunk|primary|secondary|tertiary|unclassified|residential|service|living_street|track)(_link)?$`)
	majorRoad    = regexp.MustCompile(`^(motorway|trunk|primary)(_link)?$`)
	greenLeisure = regexp.MustCompile(`^(park|garden|nature_reserve)$`)
	greenLanduse = regexp.MustCompile(`^(forest|grass|meadow|recreation_ground|village_green)$`)
)

func boolPtr(b bool) *bool { return &b }

type base struct {
	client *Client
	clock  clockwork.Clock
}

func (b base) fragment(name string, category domain.Category) domain.Fragment {
	return domain.Fragment{
		Category:  category,
		Provider:  name,
		Status:    domain.StatusOK,
		FetchedAt: b.clock.Now().UTC(),
	}
}

// UtilitiesAdapter detects power, water, telecom and gas infrastructure and
// drivable road access (infrastructure).
type UtilitiesAdapter struct{ base }

// NewUtilitiesAdapter creates the utilities adapter.
func NewUtilitiesAdapter(client *Client, clock clockwork.Clock) *UtilitiesAdapter {
	return &UtilitiesAdapter{base{client: client, clock: domain.ClockOrReal(clock)}}
}

func (a *UtilitiesAdapter) Name() string              { return "overpass_utilities" }
func (a *UtilitiesAdapter) Category() domain.Category { return domain.CategoryInfrastructure }

func (a *UtilitiesAdapter) Fetch(ctx context.Context, coords domain.Coordinates, _ domain.ListingContext) (domain.Fragment, error) {
	near := around(utilityRadiusM, coords.Lat, coords.Lon)
	road := around(roadAccessRadiusM, coords.Lat, coords.Lon)
	ql := query(queryTimeoutSec, outCenter,
		`nwr["power"]`+near,
		`nwr["man_made"~"^(water_tower|water_works|pumping_station|reservoir_covered)$"]`+near,
		`nwr["amenity"="drinking_water"]`+near,
		`nwr["telecom"]`+near,
		`nwr["man_made"~"^(mast|tower)$"]["tower:type"="communication"]`+near,
		`nwr["substance"="gas"]`+near,
		`nwr["man_made"="gasometer"]`+near,
		`way["highway"]`+road,
	)

	elements, err := a.client.Query(ctx, ql)
	if err != nil {
		return domain.Fragment{}, err
	}

	var electricity, water, telecom, gas, roadAccess bool
	for _, e := range elements {
		t := e.Tags
		switch {
		case t["power"] != "":
			electricity = true
		case waterWorks.MatchString(t["man_made"]) || t["amenity"] == "drinking_water":
			water = true
		case t["telecom"] != "" || (t["tower:type"] == "communication"):
			telecom = true
		case t["substance"] == "gas" || t["man_made"] == "gasometer":
			gas = true
		case drivableRoad.MatchString(t["highway"]):
			roadAccess = true
		}
	}

	f := a.fragment(a.Name(), a.Category())
	f.Infrastructure = &domain.InfrastructureData{
		Electricity: boolPtr(electricity),
		Water:       boolPtr(water),
		Telecom:     boolPtr(telecom),
		Gas:         boolPtr(gas),
		RoadAccess:  boolPtr(roadAccess),
	}
	return f, nil
}

// TransitAdapter finds the nearest bus or tram stop and the nearest train
// station (transport).
type TransitAdapter struct{ base }

// NewTransitAdapter creates the transit proximity adapter.
func NewTransitAdapter(client *Client, clock clockwork.Clock) *TransitAdapter {
	return &TransitAdapter{base{client: client, clock: domain.ClockOrReal(clock)}}
}

func (a *TransitAdapter) Name() string              { return "overpass_transit" }
func (a *TransitAdapter) Category() domain.Category { return domain.CategoryTransport }

func (a *TransitAdapter) Fetch(ctx context.Context, coords domain.Coordinates, _ domain.ListingContext) (domain.Fragment, error) {
	stops := around(transitStopRadiusM, coords.Lat, coords.Lon)
	ql := query(queryTimeoutSec, outCenter,
		`node["highway"="bus_stop"]`+stops,
		`node["railway"="tram_stop"]`+stops,
		`nwr["public_transport"="platform"]`+stops,
		`nwr["railway"~"^(station|halt)$"]`+around(trainRadiusM, coords.Lat, coords.Lon),
	)

	elements, err := a.client.Query(ctx, ql)
	if err != nil {
		return domain.Fragment{}, err
	}

	stop := domain.Proximity{RadiusM: transitStopRadiusM}
	train := domain.Proximity{RadiusM: trainRadiusM}
	for _, e := range elements {
		t := e.Tags
		switch {
		case t["railway"] == "station" || t["railway"] == "halt":
			closer(&train, coords, e)
		case t["highway"] == "bus_stop" || t["railway"] == "tram_stop" || t["public_transport"] == "platform":
			closer(&stop, coords, e)
		}
	}

	f := a.fragment(a.Name(), a.Category())
	f.Transport = &domain.TransportData{TransitStop: &stop, TrainStation: &train}
	return f, nil
}

// EnvironmentAdapter measures green-space proximity and flags nearby major
// roads, railways and industrial land (environment).
type EnvironmentAdapter struct{ base }

// NewEnvironmentAdapter creates the environment adapter.
func NewEnvironmentAdapter(client *Client, clock clockwork.Clock) *EnvironmentAdapter {
	return &EnvironmentAdapter{base{client: client, clock: domain.ClockOrReal(clock)}}
}

func (a *EnvironmentAdapter) Name() string              { return "overpass_environment" }
func (a *EnvironmentAdapter) Category() domain.Category { return domain.CategoryEnvironment }

func (a *EnvironmentAdapter) Fetch(ctx context.Context, coords domain.Coordinates, _ domain.ListingContext) (domain.Fragment, error) {
	green := around(greenSpaceRadiusM, coords.Lat, coords.Lon)
	ql := query(queryTimeoutSec, outBounds,
		`nwr["leisure"~"^(park|garden|nature_reserve)$"]`+green,
		`nwr["landuse"~"^(forest|grass|meadow|recreation_ground|village_green)$"]`+green,
		`nwr["natural"="wood"]`+green,
		`way["highway"~"^(motorway|trunk|primary)(_link)?$"]`+around(majorRoadRadiusM, coords.Lat, coords.Lon),
		`way["railway"="rail"]`+around(railwayRadiusM, coords.Lat, coords.Lon),
		`nwr["landuse"="industrial"]`+around(industrialRadiusM, coords.Lat, coords.Lon),
	)

	elements, err := a.client.Query(ctx, ql)
	if err != nil {
		return domain.Fragment{}, err
	}

	greenSpace := domain.Proximity{RadiusM: greenSpaceRadiusM}
	var road, rail, industrial bool
	for _, e := range elements {
		t := e.Tags
		switch {
		case majorRoad.MatchString(t["highway"]):
			road = true
		case t["railway"] == "rail":
			rail = true
		case t["landuse"] == "industrial":
			industrial = true
		case greenLeisure.MatchString(t["leisure"]) || greenLanduse.MatchString(t["landuse"]) || t["natural"] == "wood":
			closer(&greenSpace, coords, e)
		}
	}

	f := a.fragment(a.Name(), a.Category())
	f.Environment = &domain.EnvironmentData{
		GreenSpace:       &greenSpace,
		MajorRoadNearby:  boolPtr(road),
		RailwayNearby:    boolPtr(rail),
		IndustrialNearby: boolPtr(industrial),
	}
	return f, nil
}

// closer updates p when e lies within p's radius and nearer than the
// current best.
func closer(p *domain.Proximity, coords domain.Coordinates, e Element) {
	d, ok := e.DistanceFrom(coords.Lat, coords.Lon)
	if !ok {
		return
	}
	if d > p.RadiusM {
		return
	}
	if !p.Found || d < p.DistanceM {
		p.Found = true
		p.DistanceM = d
		p.Name = e.Tags["name"]
	}
}
