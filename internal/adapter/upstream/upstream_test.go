package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/listing-score-service/internal/domain"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func response(status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: header, Body: io.NopCloser(strings.NewReader(body))}
}

func TestStatusFailure(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		kind   domain.FailureKind
		retry  time.Duration
	}{
		{"rate limited seconds", http.StatusTooManyRequests, http.Header{"Retry-After": {"7"}}, domain.FailureRateLimited, 7 * time.Second},
		{"rate limited no hint", http.StatusTooManyRequests, nil, domain.FailureRateLimited, 0},
		{"gateway timeout", http.StatusGatewayTimeout, nil, domain.FailureTimeout, 0},
		{"request timeout", http.StatusRequestTimeout, nil, domain.FailureTimeout, 0},
		{"server error", http.StatusInternalServerError, nil, domain.FailureUpstream, 0},
		{"bad request", http.StatusBadRequest, nil, domain.FailureUpstream, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := StatusFailure("overpass", response(tt.status, tt.header, "oops"), now)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.retry, f.RetryAfter)
			assert.Equal(t, "overpass", f.Provider)
			assert.Contains(t, f.Error(), "oops")
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 30*time.Second, ParseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-5", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
	assert.Equal(t, 90*time.Second, ParseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTransportFailure(t *testing.T) {
	assert.Equal(t, domain.FailureTimeout, TransportFailure("p", context.DeadlineExceeded).Kind)
	assert.Equal(t, domain.FailureTimeout, TransportFailure("p", fmt.Errorf("get: %w", timeoutErr{})).Kind)
	assert.Equal(t, domain.FailureUpstream, TransportFailure("p", errors.New("connection refused")).Kind)
}

func TestOutcome(t *testing.T) {
	t.Run("all ok", func(t *testing.T) {
		o := NewOutcome("places")
		o.Record(nil)
		o.Record(nil)
		status, err := o.Status()
		require.NoError(t, err)
		assert.Equal(t, domain.StatusOK, status)
	})

	t.Run("some ok", func(t *testing.T) {
		o := NewOutcome("places")
		o.Record(nil)
		o.Record(domain.NewAdapterFailure("places", domain.FailureTimeout, nil))
		status, err := o.Status()
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPartial, status)
		assert.Len(t, o.Failures(), 1)
	})

	t.Run("none ok prefers longest rate limit", func(t *testing.T) {
		o := NewOutcome("places")
		o.Record(domain.NewAdapterFailure("places", domain.FailureTimeout, nil))
		short := domain.NewAdapterFailure("places", domain.FailureRateLimited, nil)
		short.RetryAfter = time.Second
		long := domain.NewAdapterFailure("places", domain.FailureRateLimited, nil)
		long.RetryAfter = 5 * time.Second
		o.Record(short)
		o.Record(long)

		_, err := o.Status()
		var af *domain.AdapterFailure
		require.ErrorAs(t, err, &af)
		assert.Equal(t, domain.FailureRateLimited, af.Kind)
		assert.Equal(t, 5*time.Second, af.RetryAfter)
	})

	t.Run("failures take the outcome provider", func(t *testing.T) {
		o := NewOutcome("places_ratings")
		inner := domain.NewAdapterFailure("places", domain.FailureTimeout, nil)
		o.Record(inner)
		_, err := o.Status()
		var af *domain.AdapterFailure
		require.ErrorAs(t, err, &af)
		assert.Equal(t, "places_ratings", af.Provider)
		assert.Equal(t, domain.FailureTimeout, af.Kind)
		assert.Equal(t, "places", inner.Provider, "recorded error is not mutated")
	})

	t.Run("plain errors become upstream", func(t *testing.T) {
		o := NewOutcome("places")
		o.Record(errors.New("boom"))
		_, err := o.Status()
		var af *domain.AdapterFailure
		require.ErrorAs(t, err, &af)
		assert.Equal(t, domain.FailureUpstream, af.Kind)
	})
}
