package http_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/listing-score-service/internal/adapter/http"
)

func ok(context.Context) error { return nil }

func newTestServer(checks ...httpadapter.Check) *httpadapter.Server {
	return httpadapter.NewServer(":0", httpadapter.Readiness(checks), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func get(srv http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(httpadapter.Check{Name: "pipeline", Fn: func(context.Context) error { return errors.New("down") }})

	assert.Equal(t, http.StatusOK, get(srv, "/healthz").Code, "liveness ignores readiness checks")
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(httpadapter.Check{Name: "pipeline", Fn: ok}, httpadapter.Check{Name: "postgres", Fn: ok})

	assert.Equal(t, http.StatusOK, get(srv, "/readyz").Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(
		httpadapter.Check{Name: "pipeline", Fn: ok},
		httpadapter.Check{Name: "redis", Fn: func(context.Context) error { return errors.New("connection refused") }},
	)

	assert.Equal(t, http.StatusServiceUnavailable, get(srv, "/readyz").Code)
}

func TestReadiness_JoinsFailures(t *testing.T) {
	r := httpadapter.Readiness{
		{Name: "pipeline", Fn: func(context.Context) error { return errors.New("no batch yet") }},
		{Name: "postgres", Fn: ok},
		{Name: "redis", Fn: func(context.Context) error { return errors.New("timeout") }},
	}

	err := r.CheckReadiness(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: no batch yet")
	assert.Contains(t, err.Error(), "redis: timeout")
	assert.NotContains(t, err.Error(), "postgres")

	assert.NoError(t, httpadapter.Readiness{}.CheckReadiness(context.Background()))
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(newTestServer(), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestUnknownMethodRejected(t *testing.T) {
	srv := newTestServer()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
