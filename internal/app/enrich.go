package app

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/couchcryptid/listing-score-service/internal/adapter/distancematrix"
	"github.com/couchcryptid/listing-score-service/internal/adapter/legal"
	"github.com/couchcryptid/listing-score-service/internal/adapter/mapbox"
	"github.com/couchcryptid/listing-score-service/internal/adapter/nominatim"
	"github.com/couchcryptid/listing-score-service/internal/adapter/overpass"
	"github.com/couchcryptid/listing-score-service/internal/adapter/places"
	"github.com/couchcryptid/listing-score-service/internal/config"
	"github.com/couchcryptid/listing-score-service/internal/domain"
	"github.com/couchcryptid/listing-score-service/internal/enrich"
	"github.com/couchcryptid/listing-score-service/internal/geocode"
	"github.com/couchcryptid/listing-score-service/internal/observability"
)

// Geocoder builds the resolver chain: Mapbox (cached) when enabled, then
// Nominatim as the fallback.
func Geocoder(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *geocode.Resolver {
	var providers []domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.GeocodeCountry, cfg.MapboxTimeout, metrics, logger)
		providers = append(providers, mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics))
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
		metrics.GeocodeEnabled.Set(1)
	} else {
		logger.Info("mapbox geocoding disabled")
	}
	providers = append(providers, nominatim.NewClient(cfg.NominatimURL, cfg.NominatimUserAgent, cfg.GeocodeCountry, cfg.GeocodeTimeout, metrics, logger))
	return geocode.NewResolver(providers, cfg.GeocodeTimeout, logger)
}

// Adapters builds one adapter per category the configuration can serve.
// Overpass and the listing text are always available; Google-backed
// adapters need GOOGLE_MAPS_API_KEY.
func Adapters(cfg *config.Config, logger *slog.Logger) []domain.Adapter {
	clock := clockwork.NewRealClock()
	op := overpass.NewClient(cfg.OverpassURL, logger)
	adapters := []domain.Adapter{
		overpass.NewUtilitiesAdapter(op, clock),
		overpass.NewTransitAdapter(op, clock),
		overpass.NewEnvironmentAdapter(op, clock),
		legal.NewAdapter(clock),
	}

	if cfg.GoogleMapsAPIKey == "" {
		logger.Warn("GOOGLE_MAPS_API_KEY not set; amenity, neighborhood, services and travel time data unavailable")
		return adapters
	}
	pl := places.NewClient(cfg.GoogleMapsAPIKey, logger)
	adapters = append(adapters,
		places.NewAmenityAdapter(pl, clock),
		places.NewNeighborhoodAdapter(pl, clock),
		places.NewRatingAdapter(pl, clock),
	)
	if len(cfg.ReferencePoints) > 0 {
		dests := make([]distancematrix.Destination, len(cfg.ReferencePoints))
		for i, p := range cfg.ReferencePoints {
			dests[i] = distancematrix.Destination{Name: p.Name, Lat: p.Lat, Lon: p.Lon}
		}
		adapters = append(adapters, distancematrix.NewAdapter(cfg.GoogleMapsAPIKey, dests, clock, logger))
	}
	return adapters
}

// Orchestrator wires adapters behind the shared budget.
func Orchestrator(cfg *config.Config, adapters []domain.Adapter, tracer trace.Tracer, metrics *observability.Metrics, logger *slog.Logger) *enrich.Orchestrator {
	budget := enrich.NewBudget(cfg.EnrichMaxInFlight, cfg.EnrichRatePerSec, metrics)
	return enrich.NewOrchestrator(adapters, budget, metrics, logger,
		enrich.WithTimeouts(cfg.AdapterTimeout, cfg.EnrichRunTimeout),
		enrich.WithTracer(tracer),
	)
}
