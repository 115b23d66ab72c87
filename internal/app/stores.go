// Package app holds the wiring shared by the enricher and rescore commands.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/listing-score-service/internal/adapter/postgres"
	"github.com/couchcryptid/listing-score-service/internal/config"
	"github.com/couchcryptid/listing-score-service/internal/domain"
	"github.com/couchcryptid/listing-score-service/internal/normalize"
	"github.com/couchcryptid/listing-score-service/internal/weights"
)

// Rules returns the built-in normalization rules merged with the optional
// SCORING_RULES_FILE.
func Rules(cfg *config.Config, logger *slog.Logger) ([]normalize.Rule, error) {
	if cfg.ScoringRulesFile == "" {
		return normalize.DefaultRules(), nil
	}
	rules, err := normalize.LoadRules(cfg.ScoringRulesFile)
	if err != nil {
		return nil, err
	}
	logger.Info("scoring rules loaded", "file", cfg.ScoringRulesFile, "rules", len(rules))
	return rules, nil
}

// Stores holds the optional Postgres store next to the weight store chosen
// for the configuration.
type Stores struct {
	Weights  domain.WeightStore
	Postgres *postgres.Store
	pool     *pgxpool.Pool
}

// OpenStores picks the weight source: Postgres when DATABASE_URL is set,
// else WEIGHTS_FILE, else the built-in defaults.
func OpenStores(ctx context.Context, cfg *config.Config, rules []normalize.Rule, logger *slog.Logger) (*Stores, error) {
	s := &Stores{}
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.pool = pool
		s.Postgres = postgres.NewStore(pool)
		if err := s.Postgres.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	switch {
	case s.Postgres != nil:
		s.Weights = s.Postgres
		logger.Info("weights source", "kind", "postgres")
	case cfg.WeightsFile != "":
		s.Weights = weights.NewFileStore(cfg.WeightsFile, rules)
		logger.Info("weights source", "kind", "file", "path", cfg.WeightsFile)
	default:
		s.Weights = weights.StaticStore{Snapshot: weights.Defaults(rules)}
		logger.Info("weights source", "kind", "defaults", "version", weights.DefaultVersion)
	}

	if _, err := s.Weights.ActiveWeights(ctx); err != nil {
		// Not fatal: listings are still enriched and stored, only unscored.
		logger.Warn("active weights unusable", "error", err)
	}
	return s, nil
}

// Close releases the database pool, if any.
func (s *Stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// MustHavePostgres reports a configuration error for features that need a
// database.
func (s *Stores) MustHavePostgres(feature string) error {
	if s.Postgres == nil {
		return fmt.Errorf("%s requires DATABASE_URL", feature)
	}
	return nil
}
