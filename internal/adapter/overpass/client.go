// Package overpass implements provider adapters on the OpenStreetMap
// Overpass API: utility presence, transit proximity and environment proxies.
package overpass

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

const providerName = "overpass"

// Element is one node, way or relation. Ways and relations carry a center
// when queried with "out center" and bounds with "out bb".
type Element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *LatLon           `json:"center"`
	Bounds *Bounds           `json:"bounds"`
	Tags   map[string]string `json:"tags"`
}

// Bounds is an element's bounding box.
type Bounds struct {
	MinLat float64 `json:"minlat"`
	MinLon float64 `json:"minlon"`
	MaxLat float64 `json:"maxlat"`
	MaxLon float64 `json:"maxlon"`
}

// LatLon is a coordinate pair in Overpass JSON.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Position returns the element's node position, center, or the middle of
// its bounds.
func (e Element) Position() (float64, float64, bool) {
	switch {
	case e.Center != nil:
		return e.Center.Lat, e.Center.Lon, true
	case e.Type == "node" || e.Lat != 0 || e.Lon != 0:
		return e.Lat, e.Lon, true
	case e.Bounds != nil:
		return (e.Bounds.MinLat + e.Bounds.MaxLat) / 2, (e.Bounds.MinLon + e.Bounds.MaxLon) / 2, true
	}
	return 0, 0, false
}

// DistanceFrom returns meters from (lat, lon) to the element. With bounds it
// is the distance to the nearest edge of the box, 0 inside it; this never
// overstates the distance to an area such as a park or forest.
func (e Element) DistanceFrom(lat, lon float64) (float64, bool) {
	if b := e.Bounds; b != nil {
		nearLat := min(max(lat, b.MinLat), b.MaxLat)
		nearLon := min(max(lon, b.MinLon), b.MaxLon)
		return domain.HaversineMeters(lat, lon, nearLat, nearLon), true
	}
	elat, elon, ok := e.Position()
	if !ok {
		return 0, false
	}
	return domain.HaversineMeters(lat, lon, elat, elon), true
}

// Client posts Overpass QL queries.
type Client struct {
	endpoint   string
	httpClient *http.Client
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewClient creates an Overpass client for endpoint (the interpreter URL).
func NewClient(endpoint string, logger *slog.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		clock:      clockwork.NewRealClock(),
		logger:     logger,
	}
}

// Query runs ql and returns its elements. A server-side runtime error
// reported in the remark field is returned as a timeout.
func (c *Client) Query(ctx context.Context, ql string) ([]Element, error) {
	form := url.Values{"data": {ql}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, upstream.TransportFailure(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstream.StatusFailure(providerName, resp, c.clock.Now())
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, upstream.ParseFailure(providerName, fmt.Errorf("decode overpass response: %w", err))
	}
	if remark := strings.ToLower(body.Remark); strings.Contains(remark, "timed out") || strings.Contains(remark, "runtime error") {
		return nil, domain.NewAdapterFailure(providerName, domain.FailureTimeout, fmt.Errorf("overpass remark: %s", body.Remark))
	}
	if body.Elements == nil {
		return nil, upstream.ParseFailure(providerName, fmt.Errorf("overpass response has no elements field"))
	}
	return body.Elements, nil
}

type response struct {
	Elements []Element `json:"elements"`
	Remark   string    `json:"remark"`
}

// around renders an Overpass around filter.
func around(radiusM int, lat, lon float64) string {
	return fmt.Sprintf("(around:%d,%f,%f)", radiusM, lat, lon)
}

// Output clauses for query.
const (
	outCenter = "out center tags;"
	outBounds = "out tags bb;"
)

// query wraps statements in the standard header and the out clause.
func query(timeoutSec int, out string, statements ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n(\n", timeoutSec)
	for _, s := range statements {
		b.WriteString("  ")
		b.WriteString(s)
		b.WriteString(";\n")
	}
	b.WriteString(");\n")
	b.WriteString(out)
	b.WriteString("\n")
	return b.String()
}
