// Package normalize maps enrichment records to bounded per-criterion scores.
package normalize

import (
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/listing-score-service/internal/domain"
)

// Normalizer is a pure function of an EnrichmentRecord. It holds no mutable
// state and is safe for concurrent use.
type Normalizer struct {
	rules []compiledRule
	clock clockwork.Clock
}

type compiledRule struct {
	Rule
	extract extractor
}

// New validates rules and builds a normalizer. Rules are evaluated in
// category order, then in the order given.
func New(rules []Rule, clock clockwork.Clock) (*Normalizer, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, fmt.Errorf("invalid scoring rules: %w", err)
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, c := range domain.Categories {
		for _, r := range rules {
			if r.Category != c {
				continue
			}
			ex, _ := extractorFor(r.Category, r.Criterion)
			compiled = append(compiled, compiledRule{Rule: r, extract: ex})
		}
	}
	return &Normalizer{rules: compiled, clock: domain.ClockOrReal(clock)}, nil
}

// Rules returns the active rules in evaluation order.
func (n *Normalizer) Rules() []Rule {
	out := make([]Rule, len(n.rules))
	for i, r := range n.rules {
		out[i] = r.Rule
	}
	return out
}

// Normalize derives NormalizedMetrics from rec. A criterion is scored from
// the first usable fragment of its category that carries its value. When no
// usable fragment does, the criterion is listed as missing rather than
// scored 0.
func (n *Normalizer) Normalize(rec domain.EnrichmentRecord) domain.NormalizedMetrics {
	m := domain.NormalizedMetrics{
		ListingID: rec.ListingID,
		RunID:     rec.RunID,
		Scores:    make([]domain.CriterionScore, 0, len(n.rules)),
		DerivedAt: n.clock.Now().UTC(),
	}

	for _, r := range n.rules {
		score, ok := n.scoreCriterion(rec, r)
		if !ok {
			m.Missing = append(m.Missing, domain.CriterionRef{Category: r.Category, Criterion: r.Criterion})
			continue
		}
		m.Scores = append(m.Scores, domain.CriterionScore{Category: r.Category, Criterion: r.Criterion, Score: score})
	}
	return m
}

func (n *Normalizer) scoreCriterion(rec domain.EnrichmentRecord, r compiledRule) (float64, bool) {
	for _, f := range rec.Fragments {
		if f.Category != r.Category || !f.Usable() {
			continue
		}
		v, ok := r.extract(f)
		if !ok {
			continue
		}
		var scale float64
		if f.Services != nil {
			scale = f.Services.Scale
		}
		return r.apply(v, scale)
	}
	return 0, false
}
