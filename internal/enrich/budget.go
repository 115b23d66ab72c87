package enrich

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/listing-score-service/internal/observability"
)

// Budget is the shared cap on external provider calls. One Budget is shared
// by every listing in a batch: it bounds both concurrent calls and the rate
// at which new calls start.
type Budget struct {
	slots   chan struct{}
	limiter *rate.Limiter
	metrics *observability.Metrics
}

// NewBudget creates a budget. A non-positive ratePerSec disables rate
// limiting.
func NewBudget(maxInFlight int, ratePerSec float64, metrics *observability.Metrics) *Budget {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	limit := rate.Inf
	burst := maxInFlight
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
		burst = max(1, int(ratePerSec))
	}
	return &Budget{
		slots:   make(chan struct{}, maxInFlight),
		limiter: rate.NewLimiter(limit, burst),
		metrics: metrics,
	}
}

// Acquire blocks until a slot is free and the rate limiter admits a call.
// The returned release func must be called exactly once.
func (b *Budget) Acquire(ctx context.Context) (func(), error) {
	select {
	case b.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire budget slot: %w", ctx.Err())
	}
	if err := b.limiter.Wait(ctx); err != nil {
		<-b.slots
		return nil, fmt.Errorf("wait for rate budget: %w", err)
	}
	b.metrics.BudgetInFlight.Inc()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		b.metrics.BudgetInFlight.Dec()
		<-b.slots
	}, nil
}

// InFlight returns the number of held slots.
func (b *Budget) InFlight() int { return len(b.slots) }
