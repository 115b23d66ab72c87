// Package nominatim implements the fallback geocoder on the OpenStreetMap
// Nominatim search API.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/listing-score-service/internal/domain"
	"github.com/couchcryptid/listing-score-service/internal/observability"
)

const providerName = "nominatim"

// maxPlaceRank is the Nominatim rank of a single building.
const maxPlaceRank = 30

// Client implements domain.Geocoder using Nominatim.
type Client struct {
	baseURL    string
	userAgent  string
	country    string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Nominatim client. The usage policy requires an
// identifying User-Agent.
func NewClient(baseURL, userAgent, country string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		country:    country,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    metrics,
		logger:     logger,
	}
}

func (c *Client) Name() string { return providerName }

// Geocode resolves address with a single search request. Confidence is
// derived from the result's place rank, so a house or street match counts
// as precise and a town centroid does not.
func (c *Client) Geocode(ctx context.Context, address string) (domain.GeocodingResult, error) {
	params := url.Values{
		"q":      {address},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}
	if c.country != "" {
		params.Set("countrycodes", c.country)
	}

	start := time.Now()
	result, err := c.search(ctx, c.baseURL+"/search?"+params.Encode())
	c.metrics.GeocodeAPIDuration.WithLabelValues(providerName).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		c.metrics.GeocodeRequests.WithLabelValues(providerName, "error").Inc()
		c.logger.Debug("nominatim geocode failed", "error", err)
	case !result.Found():
		c.metrics.GeocodeRequests.WithLabelValues(providerName, "empty").Inc()
	default:
		c.metrics.GeocodeRequests.WithLabelValues(providerName, "success").Inc()
	}
	return result, err
}

func (c *Client) search(ctx context.Context, fullURL string) (domain.GeocodingResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("nominatim API error: status %d: %s", resp.StatusCode, body)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return domain.GeocodingResult{}, fmt.Errorf("%w: %w", domain.ErrGeocodeRejected, err)
		}
		return domain.GeocodingResult{}, err
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("decode response: %w", err)
	}
	if len(places) == 0 {
		return domain.GeocodingResult{}, nil
	}

	p := places[0]
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("parse lat %q: %w", p.Lat, err)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("parse lon %q: %w", p.Lon, err)
	}

	return domain.GeocodingResult{
		Lat:              lat,
		Lon:              lon,
		FormattedAddress: p.DisplayName,
		PlaceName:        p.Name,
		Confidence:       confidence(p.PlaceRank),
	}, nil
}

func confidence(placeRank int) float64 {
	if placeRank <= 0 {
		return 0
	}
	if placeRank >= maxPlaceRank {
		return 1
	}
	return float64(placeRank) / maxPlaceRank
}

// Nominatim jsonv2 response types. Coordinates arrive as strings.

type place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
	PlaceRank   int    `json:"place_rank"`
}
