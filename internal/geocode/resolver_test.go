package geocode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/listing-score-service/internal/domain"
)

type scriptedGeocoder struct {
	name    string
	results []domain.GeocodingResult
	errs    []error
	calls   int
}

func (g *scriptedGeocoder) Name() string { return g.name }

func (g *scriptedGeocoder) Geocode(_ context.Context, _ string) (domain.GeocodingResult, error) {
	i := g.calls
	g.calls++
	var res domain.GeocodingResult
	var err error
	if i < len(g.results) {
		res = g.results[i]
	}
	if i < len(g.errs) {
		err = g.errs[i]
	}
	return res, err
}

// hangingGeocoder blocks until its context is done.
type hangingGeocoder struct {
	calls atomic.Int32
}

func (g *hangingGeocoder) Name() string { return "mapbox" }

func (g *hangingGeocoder) Geocode(ctx context.Context, _ string) (domain.GeocodingResult, error) {
	g.calls.Add(1)
	<-ctx.Done()
	return domain.GeocodingResult{}, ctx.Err()
}

var oviedo = domain.GeocodingResult{Lat: 43.3623, Lon: -5.8458, FormattedAddress: "Oviedo", Confidence: 0.92}

func newTestResolver(providers ...domain.Geocoder) (*Resolver, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	r := NewResolver(providers, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(clock), WithRetryInterval(time.Millisecond))
	return r, clock
}

func TestResolve_PrimarySucceeds(t *testing.T) {
	primary := &scriptedGeocoder{name: "mapbox", results: []domain.GeocodingResult{oviedo}}
	secondary := &scriptedGeocoder{name: "nominatim"}
	r, clock := newTestResolver(primary, secondary)

	coords, err := r.Resolve(context.Background(), "Calle Uría 10, Oviedo")
	require.NoError(t, err)
	assert.Equal(t, "mapbox", coords.Provider)
	assert.Equal(t, domain.PrecisionPrecise, coords.Precision)
	assert.Equal(t, clock.Now(), coords.ResolvedAt)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, secondary.calls)
}

func TestResolve_ZeroResultsFallsOverWithoutRetry(t *testing.T) {
	primary := &scriptedGeocoder{name: "mapbox", results: []domain.GeocodingResult{{}}}
	approx := oviedo
	approx.Confidence = 0.5
	secondary := &scriptedGeocoder{name: "nominatim", results: []domain.GeocodingResult{approx}}
	r, _ := newTestResolver(primary, secondary)

	coords, err := r.Resolve(context.Background(), "Oviedo")
	require.NoError(t, err)
	assert.Equal(t, "nominatim", coords.Provider)
	assert.Equal(t, domain.PrecisionApproximate, coords.Precision)
	assert.Equal(t, 1, primary.calls)
}

func TestResolve_TransientErrorRetriedOnce(t *testing.T) {
	primary := &scriptedGeocoder{
		name:    "mapbox",
		results: []domain.GeocodingResult{{}, oviedo},
		errs:    []error{errors.New("status 503")},
	}
	r, _ := newTestResolver(primary)

	coords, err := r.Resolve(context.Background(), "Oviedo")
	require.NoError(t, err)
	assert.Equal(t, "mapbox", coords.Provider)
	assert.Equal(t, 2, primary.calls)
}

func TestResolve_NeverMoreThanTwoAttemptsPerProvider(t *testing.T) {
	boom := errors.New("connection reset")
	primary := &scriptedGeocoder{name: "mapbox", errs: []error{boom, boom, boom}}
	secondary := &scriptedGeocoder{name: "nominatim", errs: []error{boom, boom, boom}}
	r, _ := newTestResolver(primary, secondary)

	_, err := r.Resolve(context.Background(), "Oviedo")
	var gf *domain.GeocodeFailure
	require.ErrorAs(t, err, &gf)
	assert.Equal(t, domain.GeocodeProviderUnavailable, gf.Reason)
	assert.Equal(t, 2, primary.calls)
	assert.Equal(t, 2, secondary.calls)
	assert.ErrorIs(t, err, boom)
}

func TestResolve_RejectedIsNotRetried(t *testing.T) {
	rejected := fmt.Errorf("%w: status 401", domain.ErrGeocodeRejected)
	primary := &scriptedGeocoder{name: "mapbox", errs: []error{rejected}}
	secondary := &scriptedGeocoder{name: "nominatim", results: []domain.GeocodingResult{oviedo}}
	r, _ := newTestResolver(primary, secondary)

	coords, err := r.Resolve(context.Background(), "Oviedo")
	require.NoError(t, err)
	assert.Equal(t, "nominatim", coords.Provider)
	assert.Equal(t, 1, primary.calls)
}

func TestResolve_AllEmptyIsNotFound(t *testing.T) {
	primary := &scriptedGeocoder{name: "mapbox", results: []domain.GeocodingResult{{}}}
	secondary := &scriptedGeocoder{name: "nominatim", results: []domain.GeocodingResult{{}}}
	r, _ := newTestResolver(primary, secondary)

	_, err := r.Resolve(context.Background(), "Atlantis")
	var gf *domain.GeocodeFailure
	require.ErrorAs(t, err, &gf)
	assert.Equal(t, domain.GeocodeNotFound, gf.Reason)
	assert.Equal(t, "Atlantis", gf.Address)
}

func TestResolve_MixedOutcomeIsProviderUnavailable(t *testing.T) {
	primary := &scriptedGeocoder{name: "mapbox", results: []domain.GeocodingResult{{}}}
	secondary := &scriptedGeocoder{name: "nominatim", errs: []error{errors.New("502"), errors.New("502")}}
	r, _ := newTestResolver(primary, secondary)

	_, err := r.Resolve(context.Background(), "Oviedo")
	var gf *domain.GeocodeFailure
	require.ErrorAs(t, err, &gf)
	assert.Equal(t, domain.GeocodeProviderUnavailable, gf.Reason)
}

func TestResolve_InvalidCoordinatesTreatedAsNoMatch(t *testing.T) {
	primary := &scriptedGeocoder{name: "mapbox", results: []domain.GeocodingResult{{FormattedAddress: "Null Island"}}}
	secondary := &scriptedGeocoder{name: "nominatim", results: []domain.GeocodingResult{oviedo}}
	r, _ := newTestResolver(primary, secondary)

	coords, err := r.Resolve(context.Background(), "Oviedo")
	require.NoError(t, err)
	assert.Equal(t, "nominatim", coords.Provider)
}

func TestResolve_EmptyAddress(t *testing.T) {
	primary := &scriptedGeocoder{name: "mapbox"}
	r, _ := newTestResolver(primary)

	_, err := r.Resolve(context.Background(), "   ")
	var gf *domain.GeocodeFailure
	require.ErrorAs(t, err, &gf)
	assert.Equal(t, domain.GeocodeNotFound, gf.Reason)
	assert.Equal(t, 0, primary.calls)
}

func TestResolve_NoProviders(t *testing.T) {
	r, _ := newTestResolver()
	_, err := r.Resolve(context.Background(), "Oviedo")
	var gf *domain.GeocodeFailure
	require.ErrorAs(t, err, &gf)
	assert.Equal(t, domain.GeocodeProviderUnavailable, gf.Reason)
}

func TestResolve_HangingPrimaryFallsOver(t *testing.T) {
	primary := &hangingGeocoder{}
	secondary := &scriptedGeocoder{name: "nominatim", results: []domain.GeocodingResult{oviedo}}
	r := NewResolver([]domain.Geocoder{primary, secondary}, 400*time.Millisecond,
		slog.New(slog.NewTextHandler(io.Discard, nil)), WithRetryInterval(time.Millisecond))

	start := time.Now()
	coords, err := r.Resolve(context.Background(), "Calle Uría 10, Oviedo")
	require.NoError(t, err)
	assert.Equal(t, "nominatim", coords.Provider)
	assert.Equal(t, int32(1), primary.calls.Load(), "an expired provider deadline is not retried")
	assert.Equal(t, 1, secondary.calls)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestResolve_CallerDeadlineStopsChain(t *testing.T) {
	primary := &hangingGeocoder{}
	secondary := &scriptedGeocoder{name: "nominatim", results: []domain.GeocodingResult{oviedo}}
	r, _ := newTestResolver(primary, secondary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, "Oviedo")
	var gf *domain.GeocodeFailure
	require.ErrorAs(t, err, &gf)
	assert.Equal(t, domain.GeocodeProviderUnavailable, gf.Reason)
	assert.Equal(t, 0, secondary.calls)
}
