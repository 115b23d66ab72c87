package overpass

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/listing-score-service/internal/domain"
)

var (
	origin    = domain.Coordinates{Lat: 43.3623, Lon: -5.8458}
	fetchedAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
)

func overpassServer(t *testing.T, status int, body string, check func(ql string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		if check != nil {
			check(r.PostForm.Get("data"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(endpoint string) *Client {
	c := NewClient(endpoint, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.clock = clockwork.NewFakeClockAt(fetchedAt)
	return c
}

func TestClient_Query_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   domain.FailureKind
	}{
		{"rate limited", http.StatusTooManyRequests, "", domain.FailureRateLimited},
		{"gateway timeout", http.StatusGatewayTimeout, "", domain.FailureTimeout},
		{"server error", http.StatusInternalServerError, "", domain.FailureUpstream},
		{"remark timeout", http.StatusOK, `{"elements":[],"remark":"runtime error: Query timed out in \"query\" at line 3 after 26 seconds."}`, domain.FailureTimeout},
		{"html body", http.StatusOK, `<?xml version="1.0"?><html>`, domain.FailureParseError},
		{"no elements", http.StatusOK, `{"version":0.6}`, domain.FailureParseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := overpassServer(t, tt.status, tt.body, nil)
			_, err := testClient(srv.URL).Query(context.Background(), "[out:json];")
			var af *domain.AdapterFailure
			require.ErrorAs(t, err, &af)
			assert.Equal(t, tt.kind, af.Kind)
			assert.Equal(t, "overpass", af.Provider)
		})
	}
}

func TestClient_Query_RetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Query(context.Background(), "x")
	var af *domain.AdapterFailure
	require.ErrorAs(t, err, &af)
	assert.Equal(t, 12*time.Second, af.RetryAfter)
}

func TestQuery_Format(t *testing.T) {
	ql := query(25, outCenter, `node["a"]`+around(100, 1.5, -2.25))
	assert.True(t, strings.HasPrefix(ql, "[out:json][timeout:25];"))
	assert.Contains(t, ql, `node["a"](around:100,1.500000,-2.250000);`)
	assert.True(t, strings.HasSuffix(ql, "out center tags;\n"))

	assert.True(t, strings.HasSuffix(query(25, outBounds, `way["b"]`), "out tags bb;\n"))
}

func TestUtilitiesAdapter_Fetch(t *testing.T) {
	body := `{"elements":[
		{"type":"node","id":1,"lat":43.3625,"lon":-5.8458,"tags":{"power":"pole"}},
		{"type":"way","id":2,"center":{"lat":43.3624,"lon":-5.8459},"tags":{"highway":"residential"}},
		{"type":"node","id":3,"lat":43.3626,"lon":-5.8457,"tags":{"man_made":"mast","tower:type":"communication"}}
	]}`
	srv := overpassServer(t, http.StatusOK, body, func(ql string) {
		assert.Contains(t, ql, `(around:500,43.362300,-5.845800)`)
		assert.Contains(t, ql, `way["highway"](around:100,43.362300,-5.845800)`)
	})

	a := NewUtilitiesAdapter(testClient(srv.URL), clockwork.NewFakeClockAt(fetchedAt))
	f, err := a.Fetch(context.Background(), origin, domain.ListingContext{})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusOK, f.Status)
	assert.Equal(t, domain.CategoryInfrastructure, f.Category)
	assert.Equal(t, fetchedAt, f.FetchedAt)
	require.NotNil(t, f.Infrastructure)
	assert.True(t, *f.Infrastructure.Electricity)
	assert.True(t, *f.Infrastructure.RoadAccess)
	assert.True(t, *f.Infrastructure.Telecom)
	assert.False(t, *f.Infrastructure.Water, "absence within the radius is observed, not missing")
	assert.False(t, *f.Infrastructure.Gas)
}

func TestTransitAdapter_Fetch(t *testing.T) {
	// 0.009 degrees of latitude is roughly 1000 m.
	body := `{"elements":[
		{"type":"node","id":1,"lat":43.3713,"lon":-5.8458,"tags":{"highway":"bus_stop","name":"Far stop"}},
		{"type":"node","id":2,"lat":43.3668,"lon":-5.8458,"tags":{"highway":"bus_stop","name":"Near stop"}},
		{"type":"way","id":3,"center":{"lat":43.4523,"lon":-5.8458},"tags":{"railway":"station","name":"Station"}}
	]}`
	srv := overpassServer(t, http.StatusOK, body, nil)

	a := NewTransitAdapter(testClient(srv.URL), nil)
	f, err := a.Fetch(context.Background(), origin, domain.ListingContext{})
	require.NoError(t, err)

	require.NotNil(t, f.Transport)
	stop := f.Transport.TransitStop
	require.NotNil(t, stop)
	assert.True(t, stop.Found)
	assert.Equal(t, "Near stop", stop.Name)
	assert.InDelta(t, 500, stop.DistanceM, 5)

	train := f.Transport.TrainStation
	require.NotNil(t, train)
	assert.True(t, train.Found)
	assert.InDelta(t, 10000, train.DistanceM, 20)
	assert.Nil(t, f.Transport.TravelTimesMin)
}

func TestTransitAdapter_NothingFound(t *testing.T) {
	srv := overpassServer(t, http.StatusOK, `{"elements":[]}`, nil)

	a := NewTransitAdapter(testClient(srv.URL), nil)
	f, err := a.Fetch(context.Background(), origin, domain.ListingContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, f.Status)
	assert.False(t, f.Transport.TransitStop.Found)
	assert.Equal(t, float64(transitStopRadiusM), f.Transport.TransitStop.RadiusM)
	assert.False(t, f.Transport.TrainStation.Found)
}

func TestEnvironmentAdapter_Fetch(t *testing.T) {
	body := `{"elements":[
		{"type":"way","id":1,"center":{"lat":43.3641,"lon":-5.8458},"tags":{"leisure":"park","name":"Campo San Francisco"}},
		{"type":"way","id":2,"center":{"lat":43.3633,"lon":-5.8458},"tags":{"highway":"primary"}},
		{"type":"relation","id":3,"tags":{"landuse":"forest"}}
	]}`
	srv := overpassServer(t, http.StatusOK, body, func(ql string) {
		assert.True(t, strings.HasSuffix(ql, "out tags bb;\n"))
	})

	a := NewEnvironmentAdapter(testClient(srv.URL), nil)
	f, err := a.Fetch(context.Background(), origin, domain.ListingContext{})
	require.NoError(t, err)

	env := f.Environment
	require.NotNil(t, env)
	assert.True(t, env.GreenSpace.Found)
	assert.InDelta(t, 200, env.GreenSpace.DistanceM, 5)
	assert.Equal(t, "Campo San Francisco", env.GreenSpace.Name)
	assert.True(t, *env.MajorRoadNearby)
	assert.False(t, *env.RailwayNearby)
	assert.False(t, *env.IndustrialNearby)
}

func TestEnvironmentAdapter_LargeAreaMeasuredToEdge(t *testing.T) {
	// Forest edge ~300 m north of the listing; its middle is over 2 km away.
	body := `{"elements":[
		{"type":"relation","id":7,"bounds":{"minlat":43.3650,"minlon":-5.9000,"maxlat":43.4000,"maxlon":-5.8000},"tags":{"landuse":"forest","name":"Monte Naranco"}}
	]}`
	srv := overpassServer(t, http.StatusOK, body, nil)

	a := NewEnvironmentAdapter(testClient(srv.URL), nil)
	f, err := a.Fetch(context.Background(), origin, domain.ListingContext{})
	require.NoError(t, err)

	green := f.Environment.GreenSpace
	assert.True(t, green.Found)
	assert.InDelta(t, 300, green.DistanceM, 5)
	assert.Equal(t, "Monte Naranco", green.Name)
}

func TestElement_DistanceFrom(t *testing.T) {
	inside := Element{Type: "way", Bounds: &Bounds{MinLat: 43.36, MinLon: -5.85, MaxLat: 43.37, MaxLon: -5.84}}
	d, ok := inside.DistanceFrom(origin.Lat, origin.Lon)
	require.True(t, ok)
	assert.Zero(t, d, "inside the box")

	node := Element{Type: "node", Lat: 43.3641, Lon: -5.8458}
	d, ok = node.DistanceFrom(origin.Lat, origin.Lon)
	require.True(t, ok)
	assert.InDelta(t, 200, d, 5)

	_, ok = Element{Type: "relation"}.DistanceFrom(origin.Lat, origin.Lon)
	assert.False(t, ok)
}

func TestElement_Position(t *testing.T) {
	_, _, ok := Element{Type: "relation"}.Position()
	assert.False(t, ok)

	lat, lon, ok := Element{Type: "way", Center: &LatLon{Lat: 1, Lon: 2}}.Position()
	assert.True(t, ok)
	assert.Equal(t, 1.0, lat)
	assert.Equal(t, 2.0, lon)

	lat, lon, ok = Element{Type: "relation", Bounds: &Bounds{MinLat: 1, MinLon: 2, MaxLat: 3, MaxLon: 6}}.Position()
	assert.True(t, ok)
	assert.Equal(t, 2.0, lat)
	assert.Equal(t, 4.0, lon)
}
