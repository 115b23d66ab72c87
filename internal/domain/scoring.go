package domain

import (
	"context"
	"time"
)

// CriterionScore is one normalized leaf score in [0,100].
type CriterionScore struct {
	Category  Category `json:"category"`
	Criterion string   `json:"criterion"`
	Score     float64  `json:"score"`
}

// CriterionRef names a criterion without a value.
type CriterionRef struct {
	Category  Category `json:"category"`
	Criterion string   `json:"criterion"`
}

// NormalizedMetrics holds one bounded score per present criterion, in rule
// order. Missing lists criteria excluded because their data was unavailable.
type NormalizedMetrics struct {
	ListingID string           `json:"listing_id"`
	RunID     string           `json:"run_id"`
	Scores    []CriterionScore `json:"scores"`
	Missing   []CriterionRef   `json:"missing,omitempty"`
	DerivedAt time.Time        `json:"derived_at"`
}

// Lookup returns the score for a criterion, if present.
func (m NormalizedMetrics) Lookup(c Category, criterion string) (float64, bool) {
	for _, s := range m.Scores {
		if s.Category == c && s.Criterion == criterion {
			return s.Score, true
		}
	}
	return 0, false
}

// CriterionWeight is one configured weight. An empty Criterion marks the
// category-level weight.
type CriterionWeight struct {
	Category  Category  `json:"category"`
	Criterion string    `json:"criterion,omitempty"`
	Weight    float64   `json:"weight"`
	Version   string    `json:"version,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// IsCategoryLevel reports whether w weighs a whole category.
func (w CriterionWeight) IsCategoryLevel() bool { return w.Criterion == "" }

// WeightSnapshot is the active weight set at the moment of a computation.
type WeightSnapshot struct {
	Version string            `json:"version"`
	Weights []CriterionWeight `json:"weights"`
}

// CategoryWeight returns the category-level weight, or 0 when unset.
func (s WeightSnapshot) CategoryWeight(c Category) float64 {
	for _, w := range s.Weights {
		if w.Category == c && w.IsCategoryLevel() {
			return w.Weight
		}
	}
	return 0
}

// CriterionWeights returns the criterion-level weights of a category in
// snapshot order.
func (s WeightSnapshot) CriterionWeights(c Category) []CriterionWeight {
	var out []CriterionWeight
	for _, w := range s.Weights {
		if w.Category == c && !w.IsCategoryLevel() {
			out = append(out, w)
		}
	}
	return out
}

// WeightStore supplies the active weights. It is read-only to this service.
type WeightStore interface {
	ActiveWeights(ctx context.Context) (WeightSnapshot, error)
}

// CategoryScore is the score of one category together with the category
// weight that was effectively applied after redistribution.
type CategoryScore struct {
	Category        Category `json:"category"`
	Status          Status   `json:"status"`
	Score           float64  `json:"score"`
	ConfiguredShare float64  `json:"configured_share"`
	EffectiveShare  float64  `json:"effective_share"`
	Present         int      `json:"present"`
	Missing         int      `json:"missing"`
}

// ScoreResult is always fully recomputed; it is never partially updated.
type ScoreResult struct {
	ListingID     string          `json:"listing_id"`
	Categories    []CategoryScore `json:"categories"`
	Total         float64         `json:"total"`
	WeightVersion string          `json:"weight_version"`
	ComputedAt    time.Time       `json:"computed_at"`
}

// SameScore reports whether two results carry identical scores, ignoring
// ComputedAt.
func (r ScoreResult) SameScore(other ScoreResult) bool {
	if r.ListingID != other.ListingID || r.Total != other.Total ||
		r.WeightVersion != other.WeightVersion || len(r.Categories) != len(other.Categories) {
		return false
	}
	for i := range r.Categories {
		if r.Categories[i] != other.Categories[i] {
			return false
		}
	}
	return true
}
