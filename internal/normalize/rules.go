package normalize

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/couchcryptid/listing-score-service/internal/domain"
)

// Rule binds a criterion to a transfer function and its parameters.
type Rule struct {
	Category     domain.Category `koanf:"category" json:"category"`
	Criterion    string          `koanf:"criterion" json:"criterion"`
	Kind         Kind            `koanf:"kind" json:"kind"`
	Ideal        float64         `koanf:"ideal" json:"ideal,omitempty"`
	Unacceptable float64         `koanf:"unacceptable" json:"unacceptable,omitempty"`
	Saturation   float64         `koanf:"saturation" json:"saturation,omitempty"`
	// Scale is the native rating scale. Zero takes the scale reported in the
	// fragment.
	Scale float64 `koanf:"scale" json:"scale,omitempty"`
}

// DefaultRules returns the built-in rule table in category order.
func DefaultRules() []Rule {
	return []Rule{
		{Category: domain.CategoryInfrastructure, Criterion: "electricity", Kind: KindFlag},
		{Category: domain.CategoryInfrastructure, Criterion: "water", Kind: KindFlag},
		{Category: domain.CategoryInfrastructure, Criterion: "telecom", Kind: KindFlag},
		{Category: domain.CategoryInfrastructure, Criterion: "gas", Kind: KindFlag},
		{Category: domain.CategoryInfrastructure, Criterion: "road_access", Kind: KindFlag},

		{Category: domain.CategoryInfrastructureExtended, Criterion: "supermarket_distance", Kind: KindDistance, Ideal: 500, Unacceptable: 5000},
		{Category: domain.CategoryInfrastructureExtended, Criterion: "school_distance", Kind: KindDistance, Ideal: 1000, Unacceptable: 5000},
		{Category: domain.CategoryInfrastructureExtended, Criterion: "hospital_distance", Kind: KindDistance, Ideal: 2000, Unacceptable: 15000},
		{Category: domain.CategoryInfrastructureExtended, Criterion: "pharmacy_distance", Kind: KindDistance, Ideal: 500, Unacceptable: 5000},

		{Category: domain.CategoryTransport, Criterion: "transit_stop_distance", Kind: KindDistance, Ideal: 200, Unacceptable: 2000},
		{Category: domain.CategoryTransport, Criterion: "train_station_distance", Kind: KindDistance, Ideal: 1000, Unacceptable: 15000},
		{Category: domain.CategoryTransport, Criterion: "travel_time_city_center", Kind: KindDistance, Ideal: 10, Unacceptable: 60},
		{Category: domain.CategoryTransport, Criterion: "travel_time_airport", Kind: KindDistance, Ideal: 20, Unacceptable: 120},

		{Category: domain.CategoryEnvironment, Criterion: "green_space_distance", Kind: KindDistance, Ideal: 100, Unacceptable: 2000},
		{Category: domain.CategoryEnvironment, Criterion: "low_traffic_noise", Kind: KindFlag},
		{Category: domain.CategoryEnvironment, Criterion: "no_rail_noise", Kind: KindFlag},
		{Category: domain.CategoryEnvironment, Criterion: "no_industrial", Kind: KindFlag},

		{Category: domain.CategoryNeighborhood, Criterion: "restaurant_count", Kind: KindCount, Saturation: 10},
		{Category: domain.CategoryNeighborhood, Criterion: "school_count", Kind: KindCount, Saturation: 3},
		{Category: domain.CategoryNeighborhood, Criterion: "service_count", Kind: KindCount, Saturation: 8},

		{Category: domain.CategoryServicesQuality, Criterion: "school_rating", Kind: KindRating, Scale: 5},
		{Category: domain.CategoryServicesQuality, Criterion: "restaurant_rating", Kind: KindRating, Scale: 5},
		{Category: domain.CategoryServicesQuality, Criterion: "cafe_rating", Kind: KindRating, Scale: 5},

		{Category: domain.CategoryLegalStatus, Criterion: "buildable", Kind: KindFlag},
		{Category: domain.CategoryLegalStatus, Criterion: "urbanized", Kind: KindFlag},
	}
}

// LoadRules reads a YAML rules file and merges it over the defaults. File
// entries replace the default with the same category and criterion and any
// new entries are appended.
//
//	rules:
//	  - category: transport
//	    criterion: transit_stop_distance
//	    kind: distance
//	    ideal: 300
//	    unacceptable: 2500
func LoadRules(path string) ([]Rule, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load scoring rules %s: %w", path, err)
	}
	var overrides []Rule
	if err := k.Unmarshal("rules", &overrides); err != nil {
		return nil, fmt.Errorf("decode scoring rules %s: %w", path, err)
	}
	return MergeRules(DefaultRules(), overrides), nil
}

// MergeRules overlays overrides on base, keeping base order.
func MergeRules(base, overrides []Rule) []Rule {
	out := make([]Rule, len(base))
	copy(out, base)
	for _, o := range overrides {
		replaced := false
		for i := range out {
			if out[i].Category == o.Category && out[i].Criterion == o.Criterion {
				out[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}

// ValidateRules checks every rule and returns all problems joined.
func ValidateRules(rules []Rule) error {
	var errs []error
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		key := string(r.Category) + "/" + r.Criterion
		if seen[key] {
			errs = append(errs, fmt.Errorf("%s: duplicate rule", key))
		}
		seen[key] = true
		if err := r.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (r Rule) validate() error {
	if !r.Category.Valid() {
		return fmt.Errorf("unknown category %q", r.Category)
	}
	if _, ok := extractorFor(r.Category, r.Criterion); !ok {
		return errors.New("no data source for criterion")
	}
	switch r.Kind {
	case KindDistance:
		if r.Ideal < 0 || r.Unacceptable <= r.Ideal {
			return fmt.Errorf("distance needs 0 <= ideal < unacceptable, got %v and %v", r.Ideal, r.Unacceptable)
		}
	case KindCount:
		if r.Saturation <= 0 {
			return fmt.Errorf("count needs a positive saturation, got %v", r.Saturation)
		}
	case KindRating:
		if r.Scale < 0 {
			return fmt.Errorf("rating scale must not be negative, got %v", r.Scale)
		}
	case KindFlag:
	default:
		return fmt.Errorf("unknown kind %q", r.Kind)
	}
	return nil
}

// apply runs the transfer function. ok is false when the value cannot be
// scored.
func (r Rule) apply(v, fragmentScale float64) (float64, bool) {
	if math.IsNaN(v) {
		return 0, false
	}
	switch r.Kind {
	case KindDistance:
		return Distance(v, r.Ideal, r.Unacceptable), true
	case KindCount:
		return Count(v, r.Saturation), true
	case KindRating:
		scale := r.Scale
		if scale == 0 {
			scale = fragmentScale
		}
		if scale <= 0 {
			return 0, false
		}
		return Rating(v, scale), true
	case KindFlag:
		return Flag(v), true
	}
	return 0, false
}

// extractor reads one raw value from a fragment. ok is false when the
// fragment does not carry it.
type extractor func(f domain.Fragment) (v float64, ok bool)

func extractorFor(c domain.Category, criterion string) (extractor, bool) {
	switch c {
	case domain.CategoryInfrastructure:
		return infrastructureExtractor(criterion)
	case domain.CategoryInfrastructureExtended:
		kind, ok := strings.CutSuffix(criterion, "_distance")
		if !ok {
			return nil, false
		}
		return func(f domain.Fragment) (float64, bool) {
			if f.Extended == nil {
				return 0, false
			}
			p, ok := f.Extended.Amenities[kind]
			if !ok {
				return 0, false
			}
			return proximity(&p)
		}, true
	case domain.CategoryTransport:
		return transportExtractor(criterion)
	case domain.CategoryEnvironment:
		return environmentExtractor(criterion)
	case domain.CategoryNeighborhood:
		kind, ok := strings.CutSuffix(criterion, "_count")
		if !ok {
			return nil, false
		}
		return func(f domain.Fragment) (float64, bool) {
			if f.Neighborhood == nil {
				return 0, false
			}
			n, ok := f.Neighborhood.Counts[kind]
			return float64(n), ok
		}, true
	case domain.CategoryServicesQuality:
		kind, ok := strings.CutSuffix(criterion, "_rating")
		if !ok {
			return nil, false
		}
		return func(f domain.Fragment) (float64, bool) {
			if f.Services == nil {
				return 0, false
			}
			v, ok := f.Services.Ratings[kind]
			return v, ok
		}, true
	case domain.CategoryLegalStatus:
		return legalExtractor(criterion)
	}
	return nil, false
}

func infrastructureExtractor(criterion string) (extractor, bool) {
	pick := map[string]func(*domain.InfrastructureData) *bool{
		"electricity": func(d *domain.InfrastructureData) *bool { return d.Electricity },
		"water":       func(d *domain.InfrastructureData) *bool { return d.Water },
		"telecom":     func(d *domain.InfrastructureData) *bool { return d.Telecom },
		"gas":         func(d *domain.InfrastructureData) *bool { return d.Gas },
		"road_access": func(d *domain.InfrastructureData) *bool { return d.RoadAccess },
	}[criterion]
	if pick == nil {
		return nil, false
	}
	return func(f domain.Fragment) (float64, bool) {
		if f.Infrastructure == nil {
			return 0, false
		}
		return flag(pick(f.Infrastructure), false)
	}, true
}

func transportExtractor(criterion string) (extractor, bool) {
	switch criterion {
	case "transit_stop_distance":
		return func(f domain.Fragment) (float64, bool) {
			if f.Transport == nil {
				return 0, false
			}
			return proximity(f.Transport.TransitStop)
		}, true
	case "train_station_distance":
		return func(f domain.Fragment) (float64, bool) {
			if f.Transport == nil {
				return 0, false
			}
			return proximity(f.Transport.TrainStation)
		}, true
	}
	point, ok := strings.CutPrefix(criterion, "travel_time_")
	if !ok || point == "" {
		return nil, false
	}
	return func(f domain.Fragment) (float64, bool) {
		if f.Transport == nil {
			return 0, false
		}
		v, ok := f.Transport.TravelTimesMin[point]
		return v, ok
	}, true
}

func environmentExtractor(criterion string) (extractor, bool) {
	switch criterion {
	case "green_space_distance":
		return func(f domain.Fragment) (float64, bool) {
			if f.Environment == nil {
				return 0, false
			}
			return proximity(f.Environment.GreenSpace)
		}, true
	}
	// Noise and pollution proxies score 100 when the source is absent.
	pick := map[string]func(*domain.EnvironmentData) *bool{
		"low_traffic_noise": func(d *domain.EnvironmentData) *bool { return d.MajorRoadNearby },
		"no_rail_noise":     func(d *domain.EnvironmentData) *bool { return d.RailwayNearby },
		"no_industrial":     func(d *domain.EnvironmentData) *bool { return d.IndustrialNearby },
	}[criterion]
	if pick == nil {
		return nil, false
	}
	return func(f domain.Fragment) (float64, bool) {
		if f.Environment == nil {
			return 0, false
		}
		return flag(pick(f.Environment), true)
	}, true
}

func legalExtractor(criterion string) (extractor, bool) {
	pick := map[string]func(*domain.LegalData) *bool{
		"buildable": func(d *domain.LegalData) *bool { return d.Buildable },
		"urbanized": func(d *domain.LegalData) *bool { return d.Urbanized },
	}[criterion]
	if pick == nil {
		return nil, false
	}
	return func(f domain.Fragment) (float64, bool) {
		if f.Legal == nil {
			return 0, false
		}
		return flag(pick(f.Legal), false)
	}, true
}

// proximity treats "searched and not found" as infinitely far, which every
// distance rule scores 0.
func proximity(p *domain.Proximity) (float64, bool) {
	if p == nil {
		return 0, false
	}
	if !p.Found {
		return math.Inf(1), true
	}
	return p.DistanceM, true
}

func flag(b *bool, invert bool) (float64, bool) {
	if b == nil {
		return 0, false
	}
	if *b != invert {
		return 1, true
	}
	return 0, true
}
