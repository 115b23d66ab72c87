package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/listing-score-service/internal/domain"
	"github.com/couchcryptid/listing-score-service/internal/observability"
)

// Rescore triggers, used as metric labels.
const (
	TriggerCommand      = "command"
	TriggerNotification = "notification"
)

// StoredMetricsSource lists the normalized metrics of every stored listing.
type StoredMetricsSource interface {
	StoredMetrics(ctx context.Context) ([]domain.NormalizedMetrics, error)
}

// ScoreLoader persists recomputed scores.
type ScoreLoader interface {
	LoadScores(ctx context.Context, scores []domain.ScoreResult) error
}

// Rescorer runs RescoreAll against stored listings with the active weights.
type Rescorer struct {
	service *Service
	weights domain.WeightStore
	source  StoredMetricsSource
	loader  ScoreLoader
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewRescorer creates a Rescorer.
func NewRescorer(service *Service, w domain.WeightStore, source StoredMetricsSource, loader ScoreLoader, metrics *observability.Metrics, logger *slog.Logger) *Rescorer {
	return &Rescorer{
		service: service,
		weights: w,
		source:  source,
		loader:  loader,
		metrics: metrics,
		logger:  logger,
	}
}

// Rescore reads the active weights once and re-scores every stored listing.
// Per-listing failures are reported in the result, not as an error.
func (r *Rescorer) Rescore(ctx context.Context, trigger string) (RescoreResult, error) {
	res, err := r.rescore(ctx)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.metrics.RescoreRuns.WithLabelValues(trigger, outcome).Inc()
	if err != nil {
		return res, err
	}

	r.logger.Info("rescore finished",
		"trigger", trigger,
		"weight_version", res.WeightVersion,
		"scored", len(res.Scores),
		"failed", len(res.Failed),
	)
	for id, ferr := range res.Failed {
		r.logger.Warn("listing not rescored", "listing_id", id, "error", ferr)
	}
	return res, nil
}

func (r *Rescorer) rescore(ctx context.Context) (RescoreResult, error) {
	snap, err := r.weights.ActiveWeights(ctx)
	if err != nil {
		return RescoreResult{}, fmt.Errorf("load active weights: %w", err)
	}
	stored, err := r.source.StoredMetrics(ctx)
	if err != nil {
		return RescoreResult{}, fmt.Errorf("load stored metrics: %w", err)
	}

	res, err := r.service.RescoreAll(ctx, snap, stored)
	if err != nil {
		return res, err
	}
	if err := r.loader.LoadScores(ctx, res.Scores); err != nil {
		return res, fmt.Errorf("load scores: %w", err)
	}
	return res, nil
}

// Watch re-scores once per weight-change notification until ctx is done or
// the channel closes. Notifications that arrive during a pass are coalesced
// into a single follow-up pass.
func (r *Rescorer) Watch(ctx context.Context, notifications <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case version, ok := <-notifications:
			if !ok {
				return
			}
			version = drain(notifications, version)
			r.logger.Info("weights changed, rescoring", "notified_version", version)
			if _, err := r.Rescore(ctx, TriggerNotification); err != nil && ctx.Err() == nil {
				r.logger.Error("rescore failed", "error", err)
			}
		}
	}
}

// drain returns the most recent pending notification without blocking.
func drain(ch <-chan string, latest string) string {
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return latest
			}
			latest = v
		default:
			return latest
		}
	}
}
