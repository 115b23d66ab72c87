// Package scoring combines normalized criterion scores into category scores
// and a weighted total.
package scoring

import (
	"fmt"
	"math"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/listing-score-service/internal/domain"
)

// Engine is a pure function of (NormalizedMetrics, WeightSnapshot). Apart
// from the ComputedAt timestamp its output depends on nothing else.
type Engine struct {
	clock clockwork.Clock
}

// NewEngine creates a scoring engine.
func NewEngine(clock clockwork.Clock) *Engine {
	return &Engine{clock: domain.ClockOrReal(clock)}
}

// Score computes a full ScoreResult. Categories are visited in the fixed
// domain.Categories order so that summation order never varies.
func (e *Engine) Score(m domain.NormalizedMetrics, w domain.WeightSnapshot) (domain.ScoreResult, error) {
	if err := checkSnapshot(w); err != nil {
		return domain.ScoreResult{}, err
	}

	var totalCategoryWeight float64
	for _, c := range domain.Categories {
		totalCategoryWeight += w.CategoryWeight(c)
	}
	if totalCategoryWeight == 0 {
		return domain.ScoreResult{}, &domain.ScoringError{Reason: domain.NoActiveWeights, Detail: "every category weight is zero"}
	}

	result := domain.ScoreResult{
		ListingID:     m.ListingID,
		Categories:    make([]domain.CategoryScore, 0, len(domain.Categories)),
		WeightVersion: w.Version,
	}

	var scoredWeight float64
	for _, c := range domain.Categories {
		cs := scoreCategory(c, m, w.CriterionWeights(c))
		cw := w.CategoryWeight(c)
		cs.ConfiguredShare = cw / totalCategoryWeight
		if cs.Status != domain.StatusUnavailable {
			scoredWeight += cw
		}
		result.Categories = append(result.Categories, cs)
	}
	if scoredWeight == 0 {
		return domain.ScoreResult{}, &domain.ScoringError{Reason: domain.NoScorableCategory, Detail: "no weighted category has a score"}
	}

	// Category-level redistribution: shares of unscored categories move to
	// the scored ones in proportion to their configured weight.
	for i := range result.Categories {
		cs := &result.Categories[i]
		if cs.Status == domain.StatusUnavailable {
			continue
		}
		cs.EffectiveShare = w.CategoryWeight(cs.Category) / scoredWeight
		result.Total += cs.EffectiveShare * cs.Score
	}
	result.Total = clamp(result.Total)
	result.ComputedAt = e.clock.Now().UTC()
	return result, nil
}

// scoreCategory averages the present criteria with weights redistributed
// over them. A category with no weighted present criterion is unavailable.
func scoreCategory(c domain.Category, m domain.NormalizedMetrics, weights []domain.CriterionWeight) domain.CategoryScore {
	cs := domain.CategoryScore{Category: c, Status: domain.StatusUnavailable}

	raw := make([]float64, len(weights))
	present := make([]bool, len(weights))
	scores := make([]float64, len(weights))
	for i, cw := range weights {
		raw[i] = cw.Weight
		scores[i], present[i] = m.Lookup(c, cw.Criterion)
		if present[i] {
			cs.Present++
		} else {
			cs.Missing++
		}
	}

	effective := Redistribute(raw, present)
	var mass, sum float64
	for i := range weights {
		if !present[i] {
			continue
		}
		mass += effective[i]
		sum += effective[i] * scores[i]
	}
	if mass == 0 {
		return cs
	}

	cs.Score = clamp(sum / mass)
	cs.Status = domain.StatusOK
	if cs.Missing > 0 {
		cs.Status = domain.StatusPartial
	}
	return cs
}

// Redistribute moves the weight of absent entries onto present ones in
// proportion to their own weight. The result keeps the original total mass
// whenever any present entry has a positive weight; absent entries get 0.
func Redistribute(weights []float64, present []bool) []float64 {
	out := make([]float64, len(weights))
	var total, presentMass float64
	for i, w := range weights {
		total += w
		if present[i] {
			presentMass += w
		}
	}
	if presentMass == 0 {
		return out
	}
	factor := total / presentMass
	for i, w := range weights {
		if present[i] {
			out[i] = w * factor
		}
	}
	return out
}

func checkSnapshot(w domain.WeightSnapshot) error {
	if len(w.Weights) == 0 {
		return &domain.ScoringError{Reason: domain.NoActiveWeights, Detail: "weight snapshot is empty"}
	}
	for _, cw := range w.Weights {
		if cw.Weight < 0 || math.IsNaN(cw.Weight) || math.IsInf(cw.Weight, 0) {
			return &domain.ScoringError{
				Reason: domain.InvalidWeightConfig,
				Detail: fmt.Sprintf("%s/%s has weight %v", cw.Category, cw.Criterion, cw.Weight),
			}
		}
	}
	return nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
