// Package upstream classifies HTTP provider failures into domain adapter
// failures and merges the outcome of multi-request fetches.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/listing-score-service/internal/domain"
)

// maxErrorBody caps how much of an error response is kept in messages.
const maxErrorBody = 512

// TransportFailure classifies an error returned by http.Client.Do.
func TransportFailure(provider string, err error) *domain.AdapterFailure {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.NewAdapterFailure(provider, domain.FailureTimeout, err)
	}
	return domain.NewAdapterFailure(provider, domain.FailureUpstream, err)
}

// StatusFailure classifies a non-2xx response. It reads (and limits) the
// body for the error message; the caller still closes it.
func StatusFailure(provider string, resp *http.Response, now time.Time) *domain.AdapterFailure {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		f := domain.NewAdapterFailure(provider, domain.FailureRateLimited, err)
		f.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), now)
		return f
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return domain.NewAdapterFailure(provider, domain.FailureTimeout, err)
	default:
		return domain.NewAdapterFailure(provider, domain.FailureUpstream, err)
	}
}

// ParseFailure wraps a decode error.
func ParseFailure(provider string, err error) *domain.AdapterFailure {
	return domain.NewAdapterFailure(provider, domain.FailureParseError, err)
}

// ParseRetryAfter reads a Retry-After header in either delay-seconds or
// HTTP-date form. Unparseable or past values yield 0.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Outcome accumulates the results of the sub-requests behind one fragment.
type Outcome struct {
	provider  string
	succeeded int
	failures  []*domain.AdapterFailure
}

// NewOutcome starts an empty outcome for provider.
func NewOutcome(provider string) *Outcome {
	return &Outcome{provider: provider}
}

// Record adds one sub-request result. Failures are relabeled with the
// outcome's provider so they match the fragment they stand in for.
func (o *Outcome) Record(err error) {
	if err == nil {
		o.succeeded++
		return
	}
	f := *domain.AsAdapterFailure(o.provider, err)
	f.Provider = o.provider
	o.failures = append(o.failures, &f)
}

// Status returns ok when every sub-request succeeded and partial when some
// did. When none succeeded it returns the failure the orchestrator should
// act on: a rate limit (with the longest hint) wins over other kinds.
func (o *Outcome) Status() (domain.Status, error) {
	switch {
	case len(o.failures) == 0:
		return domain.StatusOK, nil
	case o.succeeded > 0:
		return domain.StatusPartial, nil
	}

	var chosen *domain.AdapterFailure
	for _, f := range o.failures {
		if f.Kind != domain.FailureRateLimited {
			continue
		}
		if chosen == nil || f.RetryAfter > chosen.RetryAfter {
			chosen = f
		}
	}
	if chosen == nil {
		chosen = o.failures[0]
	}
	return "", chosen
}

// Failures returns the recorded sub-request failures.
func (o *Outcome) Failures() []*domain.AdapterFailure {
	return o.failures
}
