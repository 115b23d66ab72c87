// Command rescore recomputes the score of every stored listing with the
// active weights. No geocoding or provider call is made.
//
// Usage:
//
//	go run ./cmd/rescore                              # Postgres metrics, scores back to Postgres and Kafka
//	go run ./cmd/rescore -metrics-file listings.jsonl # JSON lines in, scores to stdout
//	go run ./cmd/rescore -notify                      # ask running enrichers to rescore via Redis
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/listing-score-service/internal/adapter/jsonfile"
	kafkaadapter "github.com/couchcryptid/listing-score-service/internal/adapter/kafka"
	redisadapter "github.com/couchcryptid/listing-score-service/internal/adapter/redis"
	"github.com/couchcryptid/listing-score-service/internal/app"
	"github.com/couchcryptid/listing-score-service/internal/config"
	"github.com/couchcryptid/listing-score-service/internal/observability"
	"github.com/couchcryptid/listing-score-service/internal/pipeline"
	"github.com/couchcryptid/listing-score-service/internal/scoring"
)

type options struct {
	metricsFile string
	sink        string
	notify      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.metricsFile, "metrics-file", "", "JSON lines file of enriched listings or normalized metrics (default: Postgres)")
	flag.StringVar(&opts.sink, "sink", "", "where scores go: stdout, kafka or postgres (default: postgres+kafka with DATABASE_URL, else stdout)")
	flag.BoolVar(&opts.notify, "notify", false, "publish a weight-change notification on Redis instead of rescoring here")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error("rescore failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) error {
	rules, err := app.Rules(cfg, logger)
	if err != nil {
		return err
	}
	stores, err := app.OpenStores(ctx, cfg, rules, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	if opts.notify {
		return notify(ctx, cfg, stores, logger)
	}

	var source pipeline.StoredMetricsSource
	if opts.metricsFile != "" {
		source = jsonfile.NewMetricsSource(opts.metricsFile)
	} else {
		if err := stores.MustHavePostgres("reading stored metrics"); err != nil {
			return fmt.Errorf("%w (or pass -metrics-file)", err)
		}
		source = stores.Postgres
	}

	loader, closeLoader, err := scoreSink(cfg, opts.sink, stores, logger)
	if err != nil {
		return err
	}
	defer closeLoader()

	metrics := observability.NewMetrics()
	service := pipeline.NewService(nil, nil, nil, scoring.NewEngine(nil), stores.Weights, nil, metrics, logger)
	rescorer := pipeline.NewRescorer(service, stores.Weights, source, loader, metrics, logger)

	res, err := rescorer.Rescore(ctx, pipeline.TriggerCommand)
	if err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		logger.Warn("some listings could not be rescored", "failed", len(res.Failed))
	}
	return nil
}

func scoreSink(cfg *config.Config, sink string, stores *app.Stores, logger *slog.Logger) (pipeline.ScoreLoader, func(), error) {
	noop := func() {}
	if sink == "" {
		sink = "stdout"
		if stores.Postgres != nil {
			sink = "postgres+kafka"
		}
	}

	switch sink {
	case "stdout":
		return jsonfile.NewScoreWriter(os.Stdout), noop, nil
	case "postgres":
		if err := stores.MustHavePostgres("-sink postgres"); err != nil {
			return nil, nil, err
		}
		return stores.Postgres, noop, nil
	case "kafka", "postgres+kafka":
		w := kafkaadapter.NewScoreWriter(cfg, logger)
		closeFn := func() {
			if err := w.Close(); err != nil {
				logger.Error("kafka score writer close error", "error", err)
			}
		}
		if sink == "kafka" {
			return w, closeFn, nil
		}
		if err := stores.MustHavePostgres("-sink postgres+kafka"); err != nil {
			closeFn()
			return nil, nil, err
		}
		return pipeline.MultiScoreLoader{stores.Postgres, w}, closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unknown -sink %q", sink)
	}
}

func notify(ctx context.Context, cfg *config.Config, stores *app.Stores, logger *slog.Logger) error {
	if cfg.RedisURL == "" {
		return errors.New("-notify requires REDIS_URL")
	}
	snap, err := stores.Weights.ActiveWeights(ctx)
	if err != nil {
		return err
	}
	client, err := redisadapter.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := redisadapter.NewNotifier(client, cfg.WeightsChannel, logger).Publish(ctx, snap.Version); err != nil {
		return err
	}
	logger.Info("weight change published", "channel", cfg.WeightsChannel, "version", snap.Version)
	return nil
}
