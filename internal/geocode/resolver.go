// Package geocode resolves listing addresses to coordinates by trying a
// chain of geocoding providers in order.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/listing-score-service/internal/domain"
)

// maxAttemptsPerProvider bounds calls to one provider within a Resolve call.
const maxAttemptsPerProvider = 2

// Resolver implements primary/secondary geocoding with bounded retries.
type Resolver struct {
	providers     []domain.Geocoder
	timeout       time.Duration
	retryInterval time.Duration
	clock         clockwork.Clock
	logger        *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock sets the clock used for ResolvedAt timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithRetryInterval sets the pause before the second attempt on a provider.
func WithRetryInterval(d time.Duration) Option {
	return func(r *Resolver) { r.retryInterval = d }
}

// NewResolver creates a resolver over providers, tried in order. timeout
// bounds a whole Resolve call; each provider gets an even share of what is
// left when its turn comes, so a hanging primary cannot starve the fallback.
func NewResolver(providers []domain.Geocoder, timeout time.Duration, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		providers:     providers,
		timeout:       timeout,
		retryInterval: 250 * time.Millisecond,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.clock = domain.ClockOrReal(r.clock)
	return r
}

// Resolve returns coordinates for address or a *domain.GeocodeFailure.
// NotFound is returned only when every provider answered without a match;
// any provider error makes the failure ProviderUnavailable.
func (r *Resolver) Resolve(ctx context.Context, address string) (domain.Coordinates, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return domain.Coordinates{}, &domain.GeocodeFailure{Reason: domain.GeocodeNotFound}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var lastErr error
	for i, p := range r.providers {
		pctx, cancel := providerContext(ctx, len(r.providers)-i)
		result, err := r.try(pctx, p, address)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", p.Name(), err)
			r.logger.Warn("geocoding provider failed, falling back",
				"provider", p.Name(), "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if !result.Found() || !validResult(result) {
			r.logger.Debug("geocoding provider found no match", "provider", p.Name())
			continue
		}
		return domain.Coordinates{
			Lat:        result.Lat,
			Lon:        result.Lon,
			Provider:   p.Name(),
			Precision:  domain.PrecisionFor(result.Confidence),
			Confidence: result.Confidence,
			Address:    address,
			ResolvedAt: r.clock.Now().UTC(),
		}, nil
	}

	if lastErr != nil || len(r.providers) == 0 {
		if lastErr == nil {
			lastErr = errors.New("no geocoding providers configured")
		}
		return domain.Coordinates{}, &domain.GeocodeFailure{
			Reason:  domain.GeocodeProviderUnavailable,
			Address: address,
			Err:     lastErr,
		}
	}
	return domain.Coordinates{}, &domain.GeocodeFailure{Reason: domain.GeocodeNotFound, Address: address}
}

// providerContext narrows ctx to 1/remaining of its time left. Without a
// deadline on ctx the provider is bounded only by ctx itself.
func providerContext(ctx context.Context, remaining int) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok || remaining <= 1 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Until(deadline)/time.Duration(remaining))
}

// try calls p at most maxAttemptsPerProvider times. Zero results are not
// retried; rejected requests and an expired deadline stop immediately.
func (r *Resolver) try(ctx context.Context, p domain.Geocoder, address string) (domain.GeocodingResult, error) {
	var result domain.GeocodingResult
	op := func() error {
		res, err := p.Geocode(ctx, address)
		if err != nil {
			if errors.Is(err, domain.ErrGeocodeRejected) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.retryInterval
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, maxAttemptsPerProvider-1), ctx)

	if err := backoff.Retry(op, b); err != nil {
		return domain.GeocodingResult{}, err
	}
	return result, nil
}

func validResult(res domain.GeocodingResult) bool {
	return domain.Coordinates{Lat: res.Lat, Lon: res.Lon}.Valid()
}
