package domain

import (
	"time"
)

// RawListing is a parsed listing handed over by the email-ingestion
// collaborator. It is immutable once created.
type RawListing struct {
	ID            string    `json:"id"`
	Address       string    `json:"address"`
	Price         float64   `json:"price"`
	AreaM2        float64   `json:"area_m2"`
	Title         string    `json:"title,omitempty"`
	Description   string    `json:"description,omitempty"`
	LegalStatus   string    `json:"legal_status,omitempty"`
	LandType      string    `json:"land_type,omitempty"`
	SourceEmailID string    `json:"source_email_id"`
	ReceivedAt    time.Time `json:"received_at"`
}

// Precision describes how closely coordinates match the listing address.
type Precision string

const (
	PrecisionPrecise     Precision = "precise"
	PrecisionApproximate Precision = "approximate"
)

// PreciseConfidence is the provider confidence at or above which a match is
// treated as precise.
const PreciseConfidence = 0.8

// Coordinates are the geocoded location of a listing.
type Coordinates struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Provider   string    `json:"provider"`
	Precision  Precision `json:"precision"`
	Confidence float64   `json:"confidence"`
	Address    string    `json:"address"` // address text that was resolved
	ResolvedAt time.Time `json:"resolved_at"`
}

// Valid reports whether the coordinates are inside WGS-84 bounds and not the
// zero value.
func (c Coordinates) Valid() bool {
	if c.Lat == 0 && c.Lon == 0 {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// PrecisionFor maps a provider confidence to a precision flag.
func PrecisionFor(confidence float64) Precision {
	if confidence >= PreciseConfidence {
		return PrecisionPrecise
	}
	return PrecisionApproximate
}

// Prior is previously stored state for a listing, if any.
type Prior struct {
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	// Regeocode forces address resolution even when coordinates are stored.
	Regeocode bool `json:"regeocode,omitempty"`
}

// EnrichedListing is the pipeline output handed back for persistence.
// Metrics and Score are nil when enrichment is incomplete.
type EnrichedListing struct {
	Listing     RawListing         `json:"listing"`
	Coordinates *Coordinates       `json:"coordinates,omitempty"`
	Record      *EnrichmentRecord  `json:"record,omitempty"`
	Metrics     *NormalizedMetrics `json:"metrics,omitempty"`
	Score       *ScoreResult       `json:"score,omitempty"`
	Incomplete  bool               `json:"incomplete"`
	Reason      string             `json:"reason,omitempty"`
	ProcessedAt time.Time          `json:"processed_at"`
}
