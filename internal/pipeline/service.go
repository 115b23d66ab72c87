package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/listing-score-service/internal/domain"
	"github.com/couchcryptid/listing-score-service/internal/observability"
	"github.com/couchcryptid/listing-score-service/internal/weights"
)

// Resolver turns a listing address into coordinates.
type Resolver interface {
	Resolve(ctx context.Context, address string) (domain.Coordinates, error)
}

// Enricher runs the provider adapters for one located listing.
type Enricher interface {
	Enrich(ctx context.Context, coords domain.Coordinates, lc domain.ListingContext) (domain.EnrichmentRecord, error)
}

// Normalizer maps an enrichment record to bounded criterion scores.
type Normalizer interface {
	Normalize(rec domain.EnrichmentRecord) domain.NormalizedMetrics
}

// Scorer computes a score from normalized metrics and a weight snapshot.
type Scorer interface {
	Score(m domain.NormalizedMetrics, w domain.WeightSnapshot) (domain.ScoreResult, error)
}

// Service exposes the two entry points of the core: EnrichAndScore for a
// single listing and RescoreAll for stored listings.
type Service struct {
	resolver   Resolver
	enricher   Enricher
	normalizer Normalizer
	scorer     Scorer
	weights    domain.WeightStore
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewService wires the pipeline stages. A nil clock uses the real clock.
func NewService(r Resolver, e Enricher, n Normalizer, s Scorer, w domain.WeightStore, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		resolver:   r,
		enricher:   e,
		normalizer: n,
		scorer:     s,
		weights:    w,
		clock:      domain.ClockOrReal(clock),
		metrics:    metrics,
		logger:     logger,
	}
}

// EnrichAndScore geocodes, enriches, normalizes and scores one listing. The
// returned EnrichedListing is always populated; when err is non-nil it is
// marked incomplete and carries whatever stages finished. err is one of
// *domain.GeocodeFailure, *domain.EnrichmentFailure, *domain.ScoringError,
// a weight store error or a context error.
func (s *Service) EnrichAndScore(ctx context.Context, listing domain.RawListing, prior domain.Prior) (domain.EnrichedListing, error) {
	out := domain.EnrichedListing{Listing: listing}

	coords, err := s.locate(ctx, listing, prior)
	if err != nil {
		return s.incomplete(out, err), err
	}
	out.Coordinates = &coords

	rec, err := s.enricher.Enrich(ctx, coords, domain.ContextFor(listing))
	out.Record = &rec
	if err != nil {
		return s.incomplete(out, err), err
	}

	m := s.normalizer.Normalize(rec)
	out.Metrics = &m

	snap, err := s.weights.ActiveWeights(ctx)
	if err != nil {
		s.metrics.ScoringErrors.WithLabelValues(scoringReason(err)).Inc()
		err = fmt.Errorf("load active weights: %w", err)
		return s.incomplete(out, err), err
	}

	score, err := s.scorer.Score(m, snap)
	if err != nil {
		s.metrics.ScoringErrors.WithLabelValues(scoringReason(err)).Inc()
		return s.incomplete(out, err), err
	}
	s.metrics.ScoresComputed.Inc()

	out.Score = &score
	out.ProcessedAt = s.clock.Now().UTC()
	return out, nil
}

// locate reuses stored coordinates unless a re-geocode was requested or the
// address changed since they were resolved.
func (s *Service) locate(ctx context.Context, listing domain.RawListing, prior domain.Prior) (domain.Coordinates, error) {
	if c := prior.Coordinates; c != nil && !prior.Regeocode && c.Valid() && sameAddress(c.Address, listing.Address) {
		return *c, nil
	}
	return s.resolver.Resolve(ctx, listing.Address)
}

func (s *Service) incomplete(out domain.EnrichedListing, err error) domain.EnrichedListing {
	out.Incomplete = true
	out.Reason = err.Error()
	out.Score = nil
	var ef *domain.EnrichmentFailure
	if errors.As(err, &ef) {
		out.Metrics = nil
	}
	out.ProcessedAt = s.clock.Now().UTC()
	return out
}

// RescoreResult reports a re-scoring pass. Scores keeps input order; Failed
// maps listing ids to the error that prevented scoring.
type RescoreResult struct {
	WeightVersion string
	Scores        []domain.ScoreResult
	Failed        map[string]error
}

// RescoreAll recomputes every stored listing's score from its normalized
// metrics using snapshot. It never calls a resolver or enricher. An unusable
// snapshot fails the whole pass; anything else fails only its listing.
func (s *Service) RescoreAll(ctx context.Context, snapshot domain.WeightSnapshot, stored []domain.NormalizedMetrics) (RescoreResult, error) {
	if err := weights.Validate(snapshot); err != nil {
		s.metrics.ScoringErrors.WithLabelValues(scoringReason(err)).Inc()
		return RescoreResult{}, err
	}

	scores := make([]domain.ScoreResult, len(stored))
	errs := make([]error, len(stored))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for range min(runtime.GOMAXPROCS(0), max(len(stored), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				scores[i], errs[i] = s.scorer.Score(stored[i], snapshot)
			}
		}()
	}
	for i := range stored {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	res := RescoreResult{WeightVersion: snapshot.Version, Failed: map[string]error{}}
	for i, err := range errs {
		if err != nil {
			res.Failed[stored[i].ListingID] = err
			s.metrics.RescoreListings.WithLabelValues("failed").Inc()
			s.metrics.ScoringErrors.WithLabelValues(scoringReason(err)).Inc()
			continue
		}
		res.Scores = append(res.Scores, scores[i])
		s.metrics.RescoreListings.WithLabelValues("scored").Inc()
	}
	return res, nil
}

func sameAddress(a, b string) bool {
	norm := func(s string) string { return strings.Join(strings.Fields(strings.ToLower(s)), " ") }
	return norm(a) == norm(b)
}

func scoringReason(err error) string {
	var se *domain.ScoringError
	if errors.As(err, &se) {
		return string(se.Reason)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "weights_unavailable"
}
