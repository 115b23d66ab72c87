//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/listing-score-service/internal/app"
	"github.com/couchcryptid/listing-score-service/internal/config"
	"github.com/couchcryptid/listing-score-service/internal/normalize"
	"github.com/couchcryptid/listing-score-service/internal/observability"
	"github.com/couchcryptid/listing-score-service/internal/pipeline"
	"github.com/couchcryptid/listing-score-service/internal/scoring"
	"github.com/couchcryptid/listing-score-service/internal/weights"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("listing-score-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// stubProviders serves Nominatim and Overpass. Addresses containing
// "nowhere" do not geocode.
func stubProviders(t *testing.T) (nominatimURL, overpassURL string) {
	t.Helper()
	nom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("q") == "nowhere" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{"lat":"43.3623","lon":"-5.8458","display_name":"Calle Uría, Oviedo","name":"Calle Uría","place_rank":30}]`))
	}))
	t.Cleanup(nom.Close)

	op := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"elements":[
			{"type":"node","id":1,"lat":43.3625,"lon":-5.8455,"tags":{"power":"substation"}},
			{"type":"node","id":2,"lat":43.3624,"lon":-5.8457,"tags":{"amenity":"drinking_water"}},
			{"type":"node","id":3,"lat":43.3621,"lon":-5.8459,"tags":{"highway":"residential"}},
			{"type":"node","id":4,"lat":43.3640,"lon":-5.8470,"tags":{"highway":"bus_stop"}},
			{"type":"node","id":5,"lat":43.3600,"lon":-5.8400,"tags":{"leisure":"park"}}
		]}`))
	}))
	t.Cleanup(op.Close)
	return nom.URL, op.URL
}

// newService wires the real geocoder and adapters against the stubs.
func newService(t *testing.T, cfg *config.Config, metrics *observability.Metrics) *pipeline.Service {
	t.Helper()
	nomURL, opURL := stubProviders(t)
	cfg.NominatimURL = nomURL
	cfg.NominatimUserAgent = "listing-score-test/1.0"
	cfg.OverpassURL = opURL
	cfg.GeocodeTimeout = 5 * time.Second
	cfg.AdapterTimeout = 5 * time.Second
	cfg.EnrichRunTimeout = 30 * time.Second
	cfg.EnrichMaxInFlight = 4

	normalizer, err := normalize.New(normalize.DefaultRules(), nil)
	require.NoError(t, err)

	logger := discardLogger()
	tp, err := observability.NewTracerProvider(context.Background(), observability.TracingConfig{}, logger)
	require.NoError(t, err)
	adapters := app.Adapters(cfg, logger)
	return pipeline.NewService(
		app.Geocoder(cfg, metrics, logger),
		app.Orchestrator(cfg, adapters, tp.Tracer("integration"), metrics, logger),
		normalizer,
		scoring.NewEngine(nil),
		weights.StaticStore{Snapshot: weights.Defaults(normalize.DefaultRules())},
		nil, metrics, logger,
	)
}
