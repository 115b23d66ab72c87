package enrich

import (
	"time"

	"github.com/couchcryptid/listing-score-service/internal/domain"
)

// RetryPolicy bounds adapter attempts per failure kind.
type RetryPolicy struct {
	RateLimitedAttempts int
	OtherAttempts       int
	BaseBackoff         time.Duration
	MaxBackoff          time.Duration
}

// DefaultRetryPolicy allows three attempts for rate limits and two for any
// other failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RateLimitedAttempts: 3,
		OtherAttempts:       2,
		BaseBackoff:         500 * time.Millisecond,
		MaxBackoff:          10 * time.Second,
	}
}

// MaxAttempts returns the total number of attempts allowed once a failure of
// kind has been seen.
func (p RetryPolicy) MaxAttempts(kind domain.FailureKind) int {
	if kind == domain.FailureRateLimited {
		return p.RateLimitedAttempts
	}
	return p.OtherAttempts
}

// Delay is the wait before attempt+1. It grows exponentially from
// BaseBackoff, is capped at MaxBackoff and never undercuts a provider's
// Retry-After hint.
func (p RetryPolicy) Delay(attempt int, f *domain.AdapterFailure) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < attempt && d < p.MaxBackoff; i++ {
		d *= 2
	}
	d = min(d, p.MaxBackoff)
	if f != nil && f.RetryAfter > d {
		return f.RetryAfter
	}
	return d
}
