// Package enrich dispatches provider adapters for a listing and merges their
// fragments into an EnrichmentRecord.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/couchcryptid/listing-score-service/internal/domain"
	"github.com/couchcryptid/listing-score-service/internal/observability"
)

const (
	defaultAdapterTimeout = 10 * time.Second
	defaultRunTimeout     = 60 * time.Second
)

// Orchestrator runs every registered adapter in parallel under a shared
// Budget. It is safe for concurrent use across listings.
type Orchestrator struct {
	adapters       []domain.Adapter
	budget         *Budget
	policy         RetryPolicy
	adapterTimeout time.Duration
	runTimeout     time.Duration
	clock          clockwork.Clock
	tracer         trace.Tracer
	metrics        *observability.Metrics
	logger         *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithRetryPolicy(p RetryPolicy) Option { return func(o *Orchestrator) { o.policy = p } }

// WithTimeouts sets the per-attempt and per-run deadlines.
func WithTimeouts(adapter, run time.Duration) Option {
	return func(o *Orchestrator) {
		o.adapterTimeout = adapter
		o.runTimeout = run
	}
}

func WithClock(c clockwork.Clock) Option { return func(o *Orchestrator) { o.clock = c } }

func WithTracer(t trace.Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

// NewOrchestrator creates an orchestrator over adapters.
func NewOrchestrator(adapters []domain.Adapter, budget *Budget, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapters:       adapters,
		budget:         budget,
		policy:         DefaultRetryPolicy(),
		adapterTimeout: defaultAdapterTimeout,
		runTimeout:     defaultRunTimeout,
		tracer:         noop.NewTracerProvider().Tracer("enrich"),
		metrics:        metrics,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.clock = domain.ClockOrReal(o.clock)
	return o
}

// Adapters returns the registered adapter names.
func (o *Orchestrator) Adapters() []string {
	names := make([]string, len(o.adapters))
	for i, a := range o.adapters {
		names[i] = a.Name()
	}
	return names
}

// Enrich builds a fresh EnrichmentRecord for one listing. The record always
// ends in a final state. When a mandatory category is unavailable the record
// is returned together with an *domain.EnrichmentFailure.
func (o *Orchestrator) Enrich(ctx context.Context, coords domain.Coordinates, lc domain.ListingContext) (domain.EnrichmentRecord, error) {
	start := o.clock.Now()
	rec := domain.EnrichmentRecord{
		ListingID: lc.ListingID,
		RunID:     uuid.NewString(),
		State:     domain.StatePending,
		StartedAt: start.UTC(),
	}

	ctx, end := observability.StartSpan(ctx, o.tracer, "enrich.listing",
		attribute.String("listing.id", lc.ListingID),
		attribute.String("enrich.run_id", rec.RunID))

	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	rec.State = domain.StateDispatching
	fragments := make([]domain.Fragment, len(o.adapters))
	var wg sync.WaitGroup
	for i, a := range o.adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fragments[i] = o.fetch(runCtx, a, coords, lc)
		}()
	}
	wg.Wait()

	rec.Fragments = fragments
	rec.FinishedAt = o.clock.Now().UTC()

	var err error
	rec.State, err = deriveState(rec)

	o.metrics.EnrichmentRuns.WithLabelValues(string(rec.State)).Inc()
	o.metrics.EnrichmentDuration.Observe(o.clock.Since(start).Seconds())
	o.logger.Info("enrichment finished",
		"listing_id", rec.ListingID,
		"run_id", rec.RunID,
		"state", rec.State,
		"fragments", len(rec.Fragments),
	)
	end(err)
	return rec, err
}

// fetch runs one adapter until it yields a fragment or its attempts are
// exhausted. It always returns a fragment.
func (o *Orchestrator) fetch(ctx context.Context, a domain.Adapter, coords domain.Coordinates, lc domain.ListingContext) domain.Fragment {
	var last *domain.AdapterFailure
	attempt := 0
	for {
		attempt++
		frag, failure := o.attempt(ctx, a, coords, lc, attempt)
		if failure == nil {
			frag.Attempts = attempt
			return frag
		}
		last = failure

		if attempt >= o.policy.MaxAttempts(failure.Kind) || ctx.Err() != nil {
			break
		}
		o.metrics.AdapterRetries.WithLabelValues(a.Name(), string(failure.Kind)).Inc()
		delay := o.policy.Delay(attempt, failure)
		o.logger.Debug("retrying adapter",
			"adapter", a.Name(),
			"listing_id", lc.ListingID,
			"attempt", attempt,
			"kind", failure.Kind,
			"delay", delay,
		)
		if !sleepWithContext(ctx, o.clock, delay) {
			break
		}
	}

	o.logger.Warn("adapter unavailable",
		"adapter", a.Name(),
		"listing_id", lc.ListingID,
		"attempts", attempt,
		"error", last,
	)
	return domain.UnavailableFragment(a.Category(), a.Name(), o.clock.Now().UTC(), attempt, last.Kind)
}

// attempt makes one budgeted, time-bounded call.
func (o *Orchestrator) attempt(ctx context.Context, a domain.Adapter, coords domain.Coordinates, lc domain.ListingContext, n int) (domain.Fragment, *domain.AdapterFailure) {
	release, err := o.budget.Acquire(ctx)
	if err != nil {
		return domain.Fragment{}, domain.NewAdapterFailure(a.Name(), domain.FailureTimeout, err)
	}
	defer release()

	callCtx, cancel := context.WithTimeout(ctx, o.adapterTimeout)
	defer cancel()
	callCtx, end := observability.StartSpan(callCtx, o.tracer, "enrich.adapter",
		attribute.String("adapter.name", a.Name()),
		attribute.String("adapter.category", string(a.Category())),
		attribute.Int("adapter.attempt", n))

	start := o.clock.Now()
	frag, err := a.Fetch(callCtx, coords, lc)
	o.metrics.AdapterDuration.WithLabelValues(a.Name()).Observe(o.clock.Since(start).Seconds())
	end(err)

	if err != nil {
		failure := classify(a.Name(), err)
		o.metrics.AdapterRequests.WithLabelValues(a.Name(), string(failure.Kind)).Inc()
		return domain.Fragment{}, failure
	}

	frag = sanitize(frag, a)
	o.metrics.AdapterRequests.WithLabelValues(a.Name(), string(frag.Status)).Inc()
	return frag, nil
}

// classify maps an adapter error to a failure labeled with the adapter's
// name. Bare context deadline errors from adapters that do not classify
// their own failures count as timeouts.
func classify(provider string, err error) *domain.AdapterFailure {
	var af *domain.AdapterFailure
	if errors.As(err, &af) {
		if af.Provider == provider {
			return af
		}
		relabeled := *af
		relabeled.Provider = provider
		return &relabeled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewAdapterFailure(provider, domain.FailureTimeout, err)
	}
	return domain.AsAdapterFailure(provider, err)
}

// sanitize pins the fragment to its adapter and strips values from
// unavailable fragments.
func sanitize(f domain.Fragment, a domain.Adapter) domain.Fragment {
	f.Category = a.Category()
	f.Provider = a.Name()
	switch f.Status {
	case domain.StatusOK, domain.StatusPartial:
		return f
	default:
		return domain.UnavailableFragment(f.Category, f.Provider, f.FetchedAt, 0, f.Failure)
	}
}

// deriveState applies the final-state rules: Failed when a mandatory
// category is unavailable, PartiallyEnriched when any other category is, and
// FullyEnriched otherwise.
func deriveState(rec domain.EnrichmentRecord) (domain.EnrichmentState, error) {
	var mandatory []domain.Category
	partial := false
	for _, c := range domain.Categories {
		if rec.CategoryStatus(c) != domain.StatusUnavailable {
			continue
		}
		if c.Mandatory() {
			mandatory = append(mandatory, c)
		} else {
			partial = true
		}
	}
	switch {
	case len(mandatory) > 0:
		return domain.StateFailed, &domain.EnrichmentFailure{
			Reason:     domain.MandatoryCategoryUnavailable,
			ListingID:  rec.ListingID,
			Categories: mandatory,
		}
	case partial:
		return domain.StatePartiallyEnriched, nil
	default:
		return domain.StateFullyEnriched, nil
	}
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
