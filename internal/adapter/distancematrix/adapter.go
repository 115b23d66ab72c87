// Package distancematrix measures driving time from a listing to named
// reference points with the Google Distance Matrix API.
package distancematrix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/listing-score-service/internal/adapter/upstream"
	"github.com/couchcryptid/listing-score-service/internal/domain"
)

const (
	defaultBaseURL = "https://maps.googleapis.com/maps/api"
)

// Destination is a named reference point.
type Destination struct {
	Name string
	Lat  float64
	Lon  float64
}

// Adapter contributes travel times to the transport category. All
// destinations are sent in a single request.
type Adapter struct {
	apiKey       string
	baseURL      string
	destinations []Destination
	httpClient   *http.Client
	clock        clockwork.Clock
	logger       *slog.Logger
}

// NewAdapter creates the travel-time adapter.
func NewAdapter(apiKey string, destinations []Destination, clock clockwork.Clock, logger *slog.Logger) *Adapter {
	return &Adapter{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		destinations: destinations,
		httpClient:   &http.Client{},
		clock:        domain.ClockOrReal(clock),
		logger:       logger,
	}
}

func (a *Adapter) Name() string              { return "distance_matrix" }
func (a *Adapter) Category() domain.Category { return domain.CategoryTransport }

// Fetch returns an ok fragment when every destination was reached, partial
// when only some were, and unavailable (without error) when the API
// answered but no route exists to any destination.
func (a *Adapter) Fetch(ctx context.Context, coords domain.Coordinates, _ domain.ListingContext) (domain.Fragment, error) {
	if len(a.destinations) == 0 {
		return domain.UnavailableFragment(a.Category(), a.Name(), a.clock.Now().UTC(), 0, ""), nil
	}

	dests := make([]string, len(a.destinations))
	for i, d := range a.destinations {
		dests[i] = fmt.Sprintf("%f,%f", d.Lat, d.Lon)
	}
	params := url.Values{
		"origins":      {fmt.Sprintf("%f,%f", coords.Lat, coords.Lon)},
		"destinations": {strings.Join(dests, "|")},
		"mode":         {"driving"},
		"units":        {"metric"},
		"key":          {a.apiKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/distancematrix/json?"+params.Encode(), nil)
	if err != nil {
		return domain.Fragment{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return domain.Fragment{}, upstream.TransportFailure(a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Fragment{}, upstream.StatusFailure(a.Name(), resp, a.clock.Now())
	}

	var body matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Fragment{}, upstream.ParseFailure(a.Name(), fmt.Errorf("decode distance matrix: %w", err))
	}

	switch body.Status {
	case "OK":
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return domain.Fragment{}, domain.NewAdapterFailure(a.Name(), domain.FailureRateLimited, fmt.Errorf("%s: %s", body.Status, body.ErrorMessage))
	case "REQUEST_DENIED", "INVALID_REQUEST", "MAX_ELEMENTS_EXCEEDED", "MAX_DIMENSIONS_EXCEEDED", "UNKNOWN_ERROR":
		return domain.Fragment{}, domain.NewAdapterFailure(a.Name(), domain.FailureUpstream, fmt.Errorf("%s: %s", body.Status, body.ErrorMessage))
	default:
		return domain.Fragment{}, upstream.ParseFailure(a.Name(), fmt.Errorf("unexpected status %q", body.Status))
	}

	if len(body.Rows) != 1 || len(body.Rows[0].Elements) != len(a.destinations) {
		return domain.Fragment{}, upstream.ParseFailure(a.Name(),
			fmt.Errorf("expected 1x%d matrix, got %d rows", len(a.destinations), len(body.Rows)))
	}

	times := make(map[string]float64, len(a.destinations))
	for i, el := range body.Rows[0].Elements {
		if el.Status != "OK" || el.Duration == nil {
			a.logger.Debug("no route to reference point",
				"destination", a.destinations[i].Name, "status", el.Status)
			continue
		}
		times[a.destinations[i].Name] = float64(el.Duration.Value) / 60
	}

	now := a.clock.Now().UTC()
	if len(times) == 0 {
		return domain.UnavailableFragment(a.Category(), a.Name(), now, 0, ""), nil
	}

	status := domain.StatusOK
	if len(times) < len(a.destinations) {
		status = domain.StatusPartial
	}
	return domain.Fragment{
		Category:  a.Category(),
		Provider:  a.Name(),
		Status:    status,
		FetchedAt: now,
		Transport: &domain.TransportData{TravelTimesMin: times},
	}, nil
}

// Distance Matrix API response types.

type matrixResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Rows         []struct {
		Elements []element `json:"elements"`
	} `json:"rows"`
}

type element struct {
	Status   string `json:"status"`
	Duration *struct {
		Value int `json:"value"` // seconds
	} `json:"duration"`
	Distance *struct {
		Value int `json:"value"` // meters
	} `json:"distance"`
}
