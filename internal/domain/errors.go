package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// GeocodeReason distinguishes permanent from transient geocoding failures.
type GeocodeReason string

const (
	GeocodeNotFound            GeocodeReason = "not_found"
	GeocodeProviderUnavailable GeocodeReason = "provider_unavailable"
)

// GeocodeFailure is returned when no provider could resolve an address.
type GeocodeFailure struct {
	Reason  GeocodeReason
	Address string
	Err     error // last provider error, nil for NotFound
}

func (e *GeocodeFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geocode %q: %s: %v", e.Address, e.Reason, e.Err)
	}
	return fmt.Sprintf("geocode %q: %s", e.Address, e.Reason)
}

func (e *GeocodeFailure) Unwrap() error { return e.Err }

// FailureKind classifies an adapter failure.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureRateLimited FailureKind = "rate_limited"
	FailureParseError  FailureKind = "parse_error"
	// FailureUpstream covers transport errors and error responses that are
	// neither rate limits nor timeouts.
	FailureUpstream FailureKind = "upstream"
)

// AdapterFailure is returned by provider adapters instead of a fragment.
type AdapterFailure struct {
	Kind       FailureKind
	Provider   string
	RetryAfter time.Duration // set for RateLimited when the provider sent a hint
	Err        error
}

func (e *AdapterFailure) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.RetryAfter > 0 {
		fmt.Fprintf(&b, " (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *AdapterFailure) Unwrap() error { return e.Err }

// NewAdapterFailure builds an AdapterFailure.
func NewAdapterFailure(provider string, kind FailureKind, err error) *AdapterFailure {
	return &AdapterFailure{Kind: kind, Provider: provider, Err: err}
}

// AsAdapterFailure extracts an AdapterFailure from err. Errors that are not
// adapter failures are classified as upstream failures.
func AsAdapterFailure(provider string, err error) *AdapterFailure {
	var af *AdapterFailure
	if errors.As(err, &af) {
		return af
	}
	return NewAdapterFailure(provider, FailureUpstream, err)
}

// EnrichmentReason describes why enrichment failed.
type EnrichmentReason string

const MandatoryCategoryUnavailable EnrichmentReason = "mandatory_category_unavailable"

// EnrichmentFailure is returned when a mandatory category could not be
// enriched after retries. The listing stays unscored.
type EnrichmentFailure struct {
	Reason     EnrichmentReason
	ListingID  string
	Categories []Category
}

func (e *EnrichmentFailure) Error() string {
	names := make([]string, len(e.Categories))
	for i, c := range e.Categories {
		names[i] = string(c)
	}
	return fmt.Sprintf("enrich listing %s: %s: %s", e.ListingID, e.Reason, strings.Join(names, ","))
}

// ScoringReason describes why a score could not be computed.
type ScoringReason string

const (
	NoActiveWeights     ScoringReason = "no_active_weights"
	NoScorableCategory  ScoringReason = "no_scorable_category"
	InvalidWeightConfig ScoringReason = "invalid_weight_config"
)

// ScoringError is fatal for a single score computation. The engine never
// falls back to default or zero weights.
type ScoringError struct {
	Reason ScoringReason
	Detail string
}

func (e *ScoringError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("scoring: %s: %s", e.Reason, e.Detail)
	}
	return "scoring: " + string(e.Reason)
}

// Is matches ScoringErrors by reason so callers can use errors.Is with a
// template such as &ScoringError{Reason: NoActiveWeights}.
func (e *ScoringError) Is(target error) bool {
	t, ok := target.(*ScoringError)
	return ok && t.Reason == e.Reason
}

// ErrNoActiveWeights is a template for errors.Is checks.
var ErrNoActiveWeights = &ScoringError{Reason: NoActiveWeights}
