// Package weights provides the default weight profile and file-backed
// weight stores.
package weights

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/couchcryptid/listing-score-service/internal/domain"
	"github.com/couchcryptid/listing-score-service/internal/normalize"
)

// DefaultVersion labels the built-in profile.
const DefaultVersion = "default"

// DefaultCategoryWeights is the built-in category profile.
var DefaultCategoryWeights = map[domain.Category]float64{
	domain.CategoryInfrastructure:         0.20,
	domain.CategoryInfrastructureExtended: 0.15,
	domain.CategoryTransport:              0.20,
	domain.CategoryEnvironment:            0.15,
	domain.CategoryNeighborhood:           0.15,
	domain.CategoryServicesQuality:        0.10,
	domain.CategoryLegalStatus:            0.05,
}

// Criterion weights that differ from 1. Developed land scores 100,
// buildable-only land 80 and rustic land 0.
var defaultCriterionWeights = map[string]float64{
	"legal_status/buildable": 0.8,
	"legal_status/urbanized": 0.2,
}

// Defaults builds the default snapshot for the given rule table: category
// weights from DefaultCategoryWeights and a weight for every rule's
// criterion.
func Defaults(rules []normalize.Rule) domain.WeightSnapshot {
	s := domain.WeightSnapshot{Version: DefaultVersion}
	for _, c := range domain.Categories {
		s.Weights = append(s.Weights, domain.CriterionWeight{
			Category: c,
			Weight:   DefaultCategoryWeights[c],
			Version:  DefaultVersion,
		})
		for _, r := range rules {
			if r.Category != c {
				continue
			}
			w, ok := defaultCriterionWeights[key(c, r.Criterion)]
			if !ok {
				w = 1
			}
			s.Weights = append(s.Weights, domain.CriterionWeight{
				Category:  c,
				Criterion: r.Criterion,
				Weight:    w,
				Version:   DefaultVersion,
			})
		}
	}
	return s
}

// Validate rejects snapshots the engine cannot score with.
func Validate(s domain.WeightSnapshot) error {
	if len(s.Weights) == 0 {
		return domain.ErrNoActiveWeights
	}
	var errs []error
	seen := make(map[string]bool, len(s.Weights))
	for _, w := range s.Weights {
		k := key(w.Category, w.Criterion)
		switch {
		case !w.Category.Valid():
			errs = append(errs, fmt.Errorf("unknown category %q", w.Category))
		case seen[k]:
			errs = append(errs, fmt.Errorf("%s: duplicate weight", k))
		case w.Weight < 0 || math.IsNaN(w.Weight) || math.IsInf(w.Weight, 0):
			errs = append(errs, fmt.Errorf("%s: weight must be a non-negative number, got %v", k, w.Weight))
		}
		seen[k] = true
	}
	if err := errors.Join(errs...); err != nil {
		return &domain.ScoringError{Reason: domain.InvalidWeightConfig, Detail: err.Error()}
	}
	return nil
}

// StaticStore serves a fixed snapshot.
type StaticStore struct {
	Snapshot domain.WeightSnapshot
}

func (s StaticStore) ActiveWeights(_ context.Context) (domain.WeightSnapshot, error) {
	if err := Validate(s.Snapshot); err != nil {
		return domain.WeightSnapshot{}, err
	}
	return s.Snapshot, nil
}

func key(c domain.Category, criterion string) string {
	if criterion == "" {
		return string(c)
	}
	return string(c) + "/" + criterion
}
