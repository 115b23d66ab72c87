package domain

import (
	"context"
	"errors"
)

// GeocodingResult contains location data returned by a geocoding provider.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	PlaceName        string
	Confidence       float64 // 0.0–1.0 provider confidence score
}

// Found reports whether the provider matched the query. Providers return a
// zero result, not an error, when nothing matched.
func (r GeocodingResult) Found() bool {
	return r.FormattedAddress != "" || r.Lat != 0 || r.Lon != 0
}

// Geocoder resolves free-text addresses with a single provider.
type Geocoder interface {
	// Name identifies the provider in coordinates, logs, and metrics.
	Name() string

	// Geocode converts an address to coordinates. An empty result with a nil
	// error means no match.
	Geocode(ctx context.Context, address string) (GeocodingResult, error)
}

// ErrGeocodeRejected marks provider responses that will not succeed on retry,
// such as invalid credentials or a malformed query.
var ErrGeocodeRejected = errors.New("geocoding request rejected")
