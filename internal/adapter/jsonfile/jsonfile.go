// Package jsonfile reads stored listings from and writes scores to JSON
// lines streams.
package jsonfile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/couchcryptid/listing-score-service/internal/domain"
)

// MetricsSource reads normalized metrics from a JSON lines file. Each line is
// either an enriched listing, whose metrics are used, or bare normalized
// metrics. An enriched listing without metrics drops whatever an earlier
// line stored for that listing.
type MetricsSource struct {
	path string
}

// NewMetricsSource creates a source for path.
func NewMetricsSource(path string) *MetricsSource {
	return &MetricsSource{path: path}
}

// StoredMetrics implements pipeline.StoredMetricsSource.
func (s *MetricsSource) StoredMetrics(ctx context.Context) ([]domain.NormalizedMetrics, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()
	return ReadMetrics(ctx, f)
}

// ReadMetrics decodes metrics from r. A later line for the same listing
// replaces an earlier one; listings keep the position of their first line.
func ReadMetrics(ctx context.Context, r io.Reader) ([]domain.NormalizedMetrics, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var order []string
	latest := map[string]*domain.NormalizedMetrics{}
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		id, m, err := decodeLine(b)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if id == "" {
			continue
		}
		if _, seen := latest[id]; !seen {
			order = append(order, id)
		}
		latest[id] = m
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}

	out := make([]domain.NormalizedMetrics, 0, len(order))
	for _, id := range order {
		if m := latest[id]; m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

// decodeLine returns the listing a line is about and its metrics. Nil
// metrics with a non-empty id mean the listing currently has none.
func decodeLine(b []byte) (string, *domain.NormalizedMetrics, error) {
	var head struct {
		Listing   *domain.RawListing        `json:"listing"`
		Metrics   *domain.NormalizedMetrics `json:"metrics"`
		ListingID string                    `json:"listing_id"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return "", nil, fmt.Errorf("decode: %w", err)
	}
	switch {
	case head.Listing != nil:
		if head.Metrics == nil {
			return head.Listing.ID, nil, nil
		}
		id := head.Metrics.ListingID
		if id == "" {
			id = head.Listing.ID
		}
		return id, head.Metrics, nil
	case head.ListingID != "":
		var m domain.NormalizedMetrics
		if err := json.Unmarshal(b, &m); err != nil {
			return "", nil, fmt.Errorf("decode metrics: %w", err)
		}
		return m.ListingID, &m, nil
	default:
		return "", nil, fmt.Errorf("neither an enriched listing nor normalized metrics")
	}
}

// ScoreWriter writes one JSON object per score. It implements
// pipeline.ScoreLoader.
type ScoreWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewScoreWriter writes to w.
func NewScoreWriter(w io.Writer) *ScoreWriter {
	return &ScoreWriter{enc: json.NewEncoder(w)}
}

func (w *ScoreWriter) LoadScores(_ context.Context, scores []domain.ScoreResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range scores {
		if err := w.enc.Encode(s); err != nil {
			return fmt.Errorf("write score %s: %w", s.ListingID, err)
		}
	}
	return nil
}
