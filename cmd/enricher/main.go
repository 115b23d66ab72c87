package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/listing-score-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/listing-score-service/internal/adapter/kafka"
	redisadapter "github.com/couchcryptid/listing-score-service/internal/adapter/redis"
	"github.com/couchcryptid/listing-score-service/internal/app"
	"github.com/couchcryptid/listing-score-service/internal/config"
	"github.com/couchcryptid/listing-score-service/internal/normalize"
	"github.com/couchcryptid/listing-score-service/internal/observability"
	"github.com/couchcryptid/listing-score-service/internal/pipeline"
	"github.com/couchcryptid/listing-score-service/internal/scoring"
)

const serviceName = "listing-score-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("enricher failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		ServiceName:  serviceName,
		Enabled:      cfg.OTelEnabled,
		OTLPEndpoint: cfg.OTelEndpoint,
		SamplingRate: cfg.OTelSamplingRate,
	}, logger)
	if err != nil {
		return err
	}

	rules, err := app.Rules(cfg, logger)
	if err != nil {
		return err
	}
	normalizer, err := normalize.New(rules, nil)
	if err != nil {
		return err
	}

	stores, err := app.OpenStores(ctx, cfg, rules, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	adapters := app.Adapters(cfg, logger)
	orchestrator := app.Orchestrator(cfg, adapters, tp.Tracer(serviceName), metrics, logger)
	logger.Info("enrichment adapters", "adapters", orchestrator.Adapters())

	service := pipeline.NewService(
		app.Geocoder(cfg, metrics, logger),
		orchestrator,
		normalizer,
		scoring.NewEngine(nil),
		stores.Weights,
		nil, metrics, logger,
	)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	scoreWriter := kafkaadapter.NewScoreWriter(cfg, logger)

	var loader pipeline.BatchLoader = writer
	if stores.Postgres != nil {
		loader = pipeline.MultiLoader{stores.Postgres, writer}
	}
	p := pipeline.New(reader, pipeline.NewTransformer(service, logger), loader, logger, metrics, cfg.BatchSize)

	checks := httpadapter.Readiness{{Name: "pipeline", Fn: p.CheckReadiness}}
	if stores.Postgres != nil {
		checks = append(checks, httpadapter.Check{Name: "postgres", Fn: stores.Postgres.HealthCheck})
	}

	// Weight-change notifications trigger a rescore of stored listings.
	if cfg.RedisURL != "" {
		notifier, closeRedis, err := subscribeWeights(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeRedis()
		checks = append(checks, httpadapter.Check{Name: "redis", Fn: notifier.HealthCheck})

		if err := stores.MustHavePostgres("rescore on weight change"); err != nil {
			logger.Warn("weight notifications ignored", "error", err)
		} else {
			notifications, err := notifier.Subscribe(ctx)
			if err != nil {
				return err
			}
			rescorer := pipeline.NewRescorer(service, stores.Weights, stores.Postgres,
				pipeline.MultiScoreLoader{stores.Postgres, scoreWriter}, metrics, logger)
			go rescorer.Watch(ctx, notifications)
			logger.Info("listening for weight changes", "channel", cfg.WeightsChannel)
		}
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, checks, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start enrichment pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if err := scoreWriter.Close(); err != nil {
		logger.Error("kafka score writer close error", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func subscribeWeights(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redisadapter.Notifier, func(), error) {
	client, err := redisadapter.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}
	return redisadapter.NewNotifier(client, cfg.WeightsChannel, logger), closeFn, nil
}
