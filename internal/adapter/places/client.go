// Package places implements provider adapters on the Google Places Nearby
// Search API: nearest amenities, amenity counts and service ratings.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/listing-score-service/internal/adapter/upstream"
	"github.com/couchcryptid/listing-score-service/internal/domain"
)

const (
	providerName   = "places"
	defaultBaseURL = "https://maps.googleapis.com/maps/api/place"
)

// Place is one Nearby Search result with its distance from the query point.
type Place struct {
	ID          string
	Name        string
	Rating      float64 // 0 when unrated
	RatingCount int
	DistanceM   float64
	Types       []string
}

// NearbyRequest describes one Nearby Search call. When RankByDistance is
// set the API ignores the radius and returns results nearest first.
type NearbyRequest struct {
	Lat            float64
	Lon            float64
	Type           string
	RadiusM        int
	RankByDistance bool
}

// Client calls the Nearby Search endpoint. It does not retry; callers get
// a *domain.AdapterFailure and the orchestrator decides.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewClient creates a Places client. Per-call deadlines come from the
// request context.
func NewClient(apiKey string, logger *slog.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
		clock:      clockwork.NewRealClock(),
		logger:     logger,
	}
}

// Nearby runs one Nearby Search. ZERO_RESULTS yields an empty slice.
func (c *Client) Nearby(ctx context.Context, r NearbyRequest) ([]Place, error) {
	params := url.Values{
		"location": {fmt.Sprintf("%f,%f", r.Lat, r.Lon)},
		"type":     {r.Type},
		"key":      {c.apiKey},
	}
	if r.RankByDistance {
		params.Set("rankby", "distance")
	} else {
		params.Set("radius", strconv.Itoa(r.RadiusM))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/nearbysearch/json?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, upstream.TransportFailure(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstream.StatusFailure(providerName, resp, c.clock.Now())
	}

	var body nearbyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, upstream.ParseFailure(providerName, fmt.Errorf("decode nearby search: %w", err))
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return []Place{}, nil
	case "OVER_QUERY_LIMIT":
		return nil, domain.NewAdapterFailure(providerName, domain.FailureRateLimited, fmt.Errorf("%s: %s", body.Status, body.ErrorMessage))
	case "REQUEST_DENIED", "INVALID_REQUEST", "UNKNOWN_ERROR":
		return nil, domain.NewAdapterFailure(providerName, domain.FailureUpstream, fmt.Errorf("%s: %s", body.Status, body.ErrorMessage))
	default:
		return nil, upstream.ParseFailure(providerName, fmt.Errorf("unexpected status %q", body.Status))
	}

	out := make([]Place, 0, len(body.Results))
	for _, res := range body.Results {
		loc := res.Geometry.Location
		if loc == nil {
			return nil, upstream.ParseFailure(providerName, fmt.Errorf("result %q has no location", res.PlaceID))
		}
		out = append(out, Place{
			ID:          res.PlaceID,
			Name:        res.Name,
			Rating:      res.Rating,
			RatingCount: res.UserRatingsTotal,
			DistanceM:   domain.HaversineMeters(r.Lat, r.Lon, loc.Lat, loc.Lng),
			Types:       res.Types,
		})
	}
	return out, nil
}

// Places API response types.

type nearbyResponse struct {
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
	Results      []nearbyResult `json:"results"`
}

type nearbyResult struct {
	PlaceID          string   `json:"place_id"`
	Name             string   `json:"name"`
	Rating           float64  `json:"rating"`
	UserRatingsTotal int      `json:"user_ratings_total"`
	Types            []string `json:"types"`
	Geometry         struct {
		Location *struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}
