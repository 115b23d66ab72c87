package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/listing-score-service/internal/domain"
)

func TestReadMetrics(t *testing.T) {
	input := strings.Join([]string{
		`{"listing":{"id":"L1"},"metrics":{"listing_id":"L1","run_id":"r1","scores":[{"category":"transport","criterion":"transit_stop_distance","score":50}]}}`,
		``,
		`{"listing":{"id":"L2"},"incomplete":true,"reason":"geocode: not_found"}`,
		`{"listing_id":"L3","run_id":"r3","scores":[]}`,
		`{"listing_id":"L1","run_id":"r9","scores":[]}`,
	}, "\n")

	got, err := ReadMetrics(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "L1", got[0].ListingID)
	assert.Equal(t, "r9", got[0].RunID, "later line wins")
	assert.Equal(t, "L3", got[1].ListingID)
}

func TestReadMetrics_IncompleteRerunDropsListing(t *testing.T) {
	input := strings.Join([]string{
		`{"listing":{"id":"L1"},"metrics":{"listing_id":"L1","run_id":"r1","scores":[{"category":"transport","criterion":"transit_stop_distance","score":90}]}}`,
		`{"listing":{"id":"L2"},"metrics":{"listing_id":"L2","run_id":"r1","scores":[]}}`,
		`{"listing":{"id":"L1"},"incomplete":true,"reason":"enrichment: mandatory_category_unavailable"}`,
	}, "\n")

	got, err := ReadMetrics(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "L2", got[0].ListingID)

	input += "\n" + `{"listing":{"id":"L1"},"metrics":{"listing_id":"L1","run_id":"r3","scores":[]}}`
	got, err = ReadMetrics(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "L1", got[0].ListingID)
	assert.Equal(t, "r3", got[0].RunID)
}

func TestReadMetrics_BadLine(t *testing.T) {
	_, err := ReadMetrics(context.Background(), strings.NewReader("{\"listing_id\":\"L1\"}\n{oops"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = ReadMetrics(context.Background(), strings.NewReader(`{"foo":1}`))
	require.Error(t, err)
}

func TestMetricsSource_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"listing_id":"L1","scores":[]}`+"\n"), 0o600))

	got, err := NewMetricsSource(path).StoredMetrics(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = NewMetricsSource(filepath.Join(t.TempDir(), "missing")).StoredMetrics(context.Background())
	assert.Error(t, err)
}

func TestScoreWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewScoreWriter(&buf)

	require.NoError(t, w.LoadScores(context.Background(), []domain.ScoreResult{
		{ListingID: "L1", Total: 40, WeightVersion: "v1"},
		{ListingID: "L2", Total: 80, WeightVersion: "v1"},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var s domain.ScoreResult
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &s))
	assert.Equal(t, "L2", s.ListingID)
	assert.Equal(t, 80.0, s.Total)
}
