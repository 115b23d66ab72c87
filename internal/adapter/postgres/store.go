// Package postgres persists scoring weights, normalized metrics and scores
// in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/listing-score-service/internal/domain"
	"github.com/couchcryptid/listing-score-service/internal/weights"
)

const schema = `
CREATE TABLE IF NOT EXISTS scoring_criteria (
	category   TEXT NOT NULL,
	criterion  TEXT NOT NULL DEFAULT '',
	weight     DOUBLE PRECISION NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (category, criterion)
);

CREATE TABLE IF NOT EXISTS listing_metrics (
	listing_id     TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	metrics        JSONB NOT NULL,
	score          JSONB,
	weight_version TEXT,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store is backed by a pgx connection pool.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a Store on an open pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Connect opens a pool for url and verifies it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: create schema: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// ActiveWeights reads every active row of scoring_criteria. The snapshot
// version is derived from the newest updated_at, so any edit yields a new
// version. It implements domain.WeightStore.
func (s *Store) ActiveWeights(ctx context.Context) (domain.WeightSnapshot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT category, criterion, weight, updated_at
		FROM scoring_criteria
		WHERE active
		ORDER BY category, criterion
	`)
	if err != nil {
		return domain.WeightSnapshot{}, fmt.Errorf("postgres: query weights: %w", err)
	}
	defer rows.Close()

	var snap domain.WeightSnapshot
	var latest time.Time
	for rows.Next() {
		var (
			w        domain.CriterionWeight
			category string
		)
		if err := rows.Scan(&category, &w.Criterion, &w.Weight, &w.UpdatedAt); err != nil {
			return domain.WeightSnapshot{}, fmt.Errorf("postgres: scan weight: %w", err)
		}
		w.Category = domain.Category(category)
		if w.UpdatedAt.After(latest) {
			latest = w.UpdatedAt
		}
		snap.Weights = append(snap.Weights, w)
	}
	if err := rows.Err(); err != nil {
		return domain.WeightSnapshot{}, fmt.Errorf("postgres: iterate weights: %w", err)
	}

	snap.Version = versionAt(latest)
	for i := range snap.Weights {
		snap.Weights[i].Version = snap.Version
	}
	if err := weights.Validate(snap); err != nil {
		return domain.WeightSnapshot{}, err
	}
	return snap, nil
}

// SaveWeights upserts a snapshot as the active weight set and deactivates
// rows it does not name.
func (s *Store) SaveWeights(ctx context.Context, snap domain.WeightSnapshot) error {
	if err := weights.Validate(snap); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE scoring_criteria SET active = FALSE, updated_at = now()`); err != nil {
			return fmt.Errorf("postgres: deactivate weights: %w", err)
		}
		for _, w := range snap.Weights {
			_, err := tx.Exec(ctx, `
				INSERT INTO scoring_criteria (category, criterion, weight, active, updated_at)
				VALUES ($1, $2, $3, TRUE, now())
				ON CONFLICT (category, criterion)
				DO UPDATE SET weight = EXCLUDED.weight, active = TRUE, updated_at = now()
			`, string(w.Category), w.Criterion, w.Weight)
			if err != nil {
				return fmt.Errorf("postgres: upsert weight %s/%s: %w", w.Category, w.Criterion, err)
			}
		}
		return nil
	})
}

// StoredMetrics returns the normalized metrics of every stored listing,
// ordered by listing id.
func (s *Store) StoredMetrics(ctx context.Context) ([]domain.NormalizedMetrics, error) {
	rows, err := s.db.Query(ctx, `SELECT metrics FROM listing_metrics ORDER BY listing_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query metrics: %w", err)
	}
	defer rows.Close()

	var out []domain.NormalizedMetrics
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan metrics: %w", err)
		}
		var m domain.NormalizedMetrics
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("postgres: decode metrics: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate metrics: %w", err)
	}
	return out, nil
}

// LoadBatch replaces the stored metrics and score of each listing. A listing
// that came back without metrics (geocoding failed or enrichment Failed) has
// its row removed, so neither the previous score nor the previous metrics
// survive into a later rescore. It implements pipeline.BatchLoader.
func (s *Store) LoadBatch(ctx context.Context, listings []domain.EnrichedListing) error {
	batch := &pgx.Batch{}
	for _, l := range listings {
		if l.Metrics == nil {
			batch.Queue(`DELETE FROM listing_metrics WHERE listing_id = $1`, l.Listing.ID)
			continue
		}
		metrics, err := json.Marshal(l.Metrics)
		if err != nil {
			return fmt.Errorf("postgres: encode metrics %s: %w", l.Listing.ID, err)
		}
		var score []byte
		var version *string
		if l.Score != nil {
			if score, err = json.Marshal(l.Score); err != nil {
				return fmt.Errorf("postgres: encode score %s: %w", l.Listing.ID, err)
			}
			version = &l.Score.WeightVersion
		}
		batch.Queue(`
			INSERT INTO listing_metrics (listing_id, run_id, metrics, score, weight_version, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (listing_id)
			DO UPDATE SET run_id = EXCLUDED.run_id, metrics = EXCLUDED.metrics,
				score = EXCLUDED.score, weight_version = EXCLUDED.weight_version, updated_at = now()
		`, l.Listing.ID, l.Metrics.RunID, metrics, score, version)
	}
	return s.send(ctx, batch, "store listings")
}

// LoadScores replaces the stored score of each listing. It implements
// pipeline.ScoreLoader.
func (s *Store) LoadScores(ctx context.Context, scores []domain.ScoreResult) error {
	batch := &pgx.Batch{}
	for _, sc := range scores {
		data, err := json.Marshal(sc)
		if err != nil {
			return fmt.Errorf("postgres: encode score %s: %w", sc.ListingID, err)
		}
		batch.Queue(`
			UPDATE listing_metrics SET score = $2, weight_version = $3, updated_at = now()
			WHERE listing_id = $1
		`, sc.ListingID, data, sc.WeightVersion)
	}
	return s.send(ctx, batch, "store scores")
}

// StoredScore returns the persisted score of a listing, or nil when it has
// never been scored.
func (s *Store) StoredScore(ctx context.Context, listingID string) (*domain.ScoreResult, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT score FROM listing_metrics WHERE listing_id = $1`, listingID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: query score: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var sc domain.ScoreResult
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("postgres: decode score: %w", err)
	}
	return &sc, nil
}

func (s *Store) send(ctx context.Context, batch *pgx.Batch, what string) error {
	if batch.Len() == 0 {
		return nil
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: %s: %w", what, err)
	}
	return nil
}

func versionAt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return "pg-" + t.UTC().Format("20060102T150405.000000Z")
}
