// Package legal derives zoning flags from the listing's own legal status and
// land type text. It makes no network calls.
package legal

import (
	"context"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/listing-score-service/internal/domain"
)

// Terms are matched as substrings of the lowercased text, in this order.
var (
	nonBuildableTerms = []string{"no urbanizable", "rustic", "rústic", "rural"}
	buildableTerms    = []string{"urbanizable", "buildable"}
	urbanTerms        = []string{"developed", "urbano", "urbana", "urban"}
)

// Adapter implements domain.Adapter for the legal_status category.
type Adapter struct {
	clock clockwork.Clock
}

// NewAdapter creates the legal adapter.
func NewAdapter(clock clockwork.Clock) *Adapter {
	return &Adapter{clock: domain.ClockOrReal(clock)}
}

func (a *Adapter) Name() string              { return "legal_listing" }
func (a *Adapter) Category() domain.Category { return domain.CategoryLegalStatus }

// Fetch never fails. A listing without legal text yields an unavailable
// fragment; unrecognized text yields both flags false.
func (a *Adapter) Fetch(_ context.Context, _ domain.Coordinates, lc domain.ListingContext) (domain.Fragment, error) {
	now := a.clock.Now().UTC()
	text := strings.ToLower(strings.TrimSpace(lc.LegalStatus + " " + lc.LandType))
	if text == "" {
		return domain.UnavailableFragment(a.Category(), a.Name(), now, 1, ""), nil
	}

	buildable, urbanized := Classify(text)
	return domain.Fragment{
		Category:  a.Category(),
		Provider:  a.Name(),
		Status:    domain.StatusOK,
		FetchedAt: now,
		Attempts:  1,
		Legal:     &domain.LegalData{Buildable: &buildable, Urbanized: &urbanized},
	}, nil
}

// Classify maps lowercased legal text to zoning flags.
func Classify(text string) (buildable, urbanized bool) {
	switch {
	case containsAny(text, nonBuildableTerms):
		return false, false
	case containsAny(text, buildableTerms):
		return true, false
	case containsAny(text, urbanTerms):
		return true, true
	default:
		return false, false
	}
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
