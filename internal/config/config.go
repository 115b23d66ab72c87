package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// ReferencePoint is a named destination for travel-time lookups.
type ReferencePoint struct {
	Name string
	Lat  float64
	Lon  float64
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaScoreTopic  string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Fallback geocoder.
	NominatimURL       string
	NominatimUserAgent string
	GeocodeCountry     string
	GeocodeTimeout     time.Duration

	// Provider adapters.
	GoogleMapsAPIKey string
	OverpassURL      string
	ReferencePoints  []ReferencePoint

	// Enrichment budget.
	AdapterTimeout    time.Duration
	EnrichRunTimeout  time.Duration
	EnrichMaxInFlight int
	EnrichRatePerSec  float64

	// Weights and rules.
	WeightsFile      string
	ScoringRulesFile string
	DatabaseURL      string
	RedisURL         string
	WeightsChannel   string

	// Tracing.
	OTelEnabled      bool
	OTelEndpoint     string
	OTelSamplingRate float64
}

const defaultReferencePoints = "city_center=43.3614,-5.8494;airport=43.5636,-6.0346"

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file (or the file named by ENV_FILE) is read first if
// present; variables already set in the environment take precedence.
func Load() (*Config, error) {
	if err := loadDotEnv(sharedcfg.EnvOrDefault("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parseDuration("MAPBOX_TIMEOUT", "5s", time.Millisecond, time.Minute)
	if err != nil {
		return nil, err
	}
	geocodeTimeout, err := parseDuration("GEOCODE_TIMEOUT", "10s", time.Second, time.Minute)
	if err != nil {
		return nil, err
	}
	adapterTimeout, err := parseDuration("ADAPTER_TIMEOUT", "10s", time.Second, time.Minute)
	if err != nil {
		return nil, err
	}
	runTimeout, err := parseDuration("ENRICH_RUN_TIMEOUT", "60s", time.Second, 30*time.Minute)
	if err != nil {
		return nil, err
	}
	if runTimeout < adapterTimeout {
		return nil, fmt.Errorf("invalid ENRICH_RUN_TIMEOUT: %s is shorter than ADAPTER_TIMEOUT %s", runTimeout, adapterTimeout)
	}

	maxInFlight, err := parsePositiveInt("ENRICH_MAX_IN_FLIGHT", 8)
	if err != nil {
		return nil, err
	}
	ratePerSec, err := parseFloat("ENRICH_RATE_PER_SEC", 5, 0.01, 1000)
	if err != nil {
		return nil, err
	}
	samplingRate, err := parseFloat("OTEL_SAMPLING_RATE", 1, 0, 1)
	if err != nil {
		return nil, err
	}

	refPoints, err := ParseReferencePoints(sharedcfg.EnvOrDefault("REFERENCE_POINTS", defaultReferencePoints))
	if err != nil {
		return nil, err
	}

	mapboxCacheSize := parseMapboxCacheSize()

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "raw-listings"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "enriched-listings"),
		KafkaScoreTopic:    sharedcfg.EnvOrDefault("KAFKA_SCORE_TOPIC", "listing-scores"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "listing-score"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: mapboxCacheSize,

		NominatimURL:       sharedcfg.EnvOrDefault("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		NominatimUserAgent: sharedcfg.EnvOrDefault("NOMINATIM_USER_AGENT", "listing-score-service/1.0"),
		GeocodeCountry:     sharedcfg.EnvOrDefault("GEOCODE_COUNTRY", "es"),
		GeocodeTimeout:     geocodeTimeout,

		GoogleMapsAPIKey: os.Getenv("GOOGLE_MAPS_API_KEY"),
		OverpassURL:      sharedcfg.EnvOrDefault("OVERPASS_URL", "https://overpass-api.de/api/interpreter"),
		ReferencePoints:  refPoints,

		AdapterTimeout:    adapterTimeout,
		EnrichRunTimeout:  runTimeout,
		EnrichMaxInFlight: maxInFlight,
		EnrichRatePerSec:  ratePerSec,

		WeightsFile:      os.Getenv("WEIGHTS_FILE"),
		ScoringRulesFile: os.Getenv("SCORING_RULES_FILE"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		WeightsChannel:   sharedcfg.EnvOrDefault("WEIGHTS_CHANNEL", "scoring-weights"),

		OTelEnabled:      os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelSamplingRate: samplingRate,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if cfg.NominatimUserAgent == "" {
		return nil, errors.New("NOMINATIM_USER_AGENT is required")
	}

	return cfg, nil
}

// ParseReferencePoints parses "name=lat,lon;name=lat,lon".
func ParseReferencePoints(s string) ([]ReferencePoint, error) {
	var points []ReferencePoint
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, coords, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid REFERENCE_POINTS entry %q", part)
		}
		latStr, lonStr, ok := strings.Cut(coords, ",")
		if !ok {
			return nil, fmt.Errorf("invalid REFERENCE_POINTS entry %q", part)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
		if err != nil || lat < -90 || lat > 90 {
			return nil, fmt.Errorf("invalid REFERENCE_POINTS latitude in %q", part)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
		if err != nil || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("invalid REFERENCE_POINTS longitude in %q", part)
		}
		points = append(points, ReferencePoint{Name: strings.TrimSpace(name), Lat: lat, Lon: lon})
	}
	return points, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func parseDuration(key, def string, lo, hi time.Duration) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < lo || d > hi {
		return 0, fmt.Errorf("invalid %s: must be a duration between %s and %s", key, lo, hi)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseFloat(key string, def, lo, hi float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < lo || f > hi {
		return 0, fmt.Errorf("invalid %s: must be a number between %g and %g", key, lo, hi)
	}
	return f, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
