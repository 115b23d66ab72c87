package legal

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/listing-score-service/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text      string
		buildable bool
		urbanized bool
	}{
		{"suelo urbano consolidado", true, true},
		{"urbana", true, true},
		{"developed plot", true, true},
		{"suelo urbanizable sectorizado", true, false},
		{"buildable land", true, false},
		{"suelo no urbanizable", false, false},
		{"finca rústica", false, false},
		{"rustic", false, false},
		{"rural", false, false},
		{"pending review", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			b, u := Classify(tt.text)
			assert.Equal(t, tt.buildable, b, "buildable")
			assert.Equal(t, tt.urbanized, u, "urbanized")
		})
	}
}

func TestAdapter_Fetch(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := NewAdapter(clockwork.NewFakeClockAt(at))

	f, err := a.Fetch(context.Background(), domain.Coordinates{}, domain.ListingContext{
		LegalStatus: "Suelo Urbano",
		LandType:    "residencial",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, f.Status)
	assert.Equal(t, domain.CategoryLegalStatus, f.Category)
	assert.Equal(t, "legal_listing", f.Provider)
	assert.Equal(t, at, f.FetchedAt)
	require.NotNil(t, f.Legal)
	assert.True(t, *f.Legal.Buildable)
	assert.True(t, *f.Legal.Urbanized)
}

func TestAdapter_Fetch_LandTypeOnly(t *testing.T) {
	a := NewAdapter(clockwork.NewFakeClock())

	f, err := a.Fetch(context.Background(), domain.Coordinates{}, domain.ListingContext{LandType: "Rústico"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, f.Status)
	assert.False(t, *f.Legal.Buildable)
	assert.False(t, *f.Legal.Urbanized)
}

func TestAdapter_Fetch_NoLegalText(t *testing.T) {
	a := NewAdapter(clockwork.NewFakeClock())

	f, err := a.Fetch(context.Background(), domain.Coordinates{}, domain.ListingContext{LegalStatus: "  "})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnavailable, f.Status)
	assert.Nil(t, f.Legal)
}
