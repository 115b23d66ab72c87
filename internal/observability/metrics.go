package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "listing_score"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// enrichment and scoring service.
type Metrics struct {
	MessagesConsumed prometheus.Counter
	MessagesProduced prometheus.Counter
	ProcessErrors    prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: provider, outcome={success,empty,error}
	GeocodeCache       *prometheus.CounterVec   // labels: result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: provider
	GeocodeEnabled     prometheus.Gauge

	// Enrichment metrics.
	EnrichmentRuns     *prometheus.CounterVec   // labels: state
	AdapterRequests    *prometheus.CounterVec   // labels: adapter, outcome={ok,partial,unavailable,timeout,rate_limited,parse_error,upstream}
	AdapterDuration    *prometheus.HistogramVec // labels: adapter
	AdapterRetries     *prometheus.CounterVec   // labels: adapter, kind
	BudgetInFlight     prometheus.Gauge
	EnrichmentDuration prometheus.Histogram

	// Scoring metrics.
	ScoresComputed  prometheus.Counter
	ScoringErrors   *prometheus.CounterVec // labels: reason
	RescoreRuns     *prometheus.CounterVec // labels: trigger={command,notification}, outcome={success,error}
	RescoreListings *prometheus.CounterVec // labels: outcome={scored,failed}
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total raw listing messages read from the source topic.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      "Total enriched listing messages written to the sink topic.",
		}),
		ProcessErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_errors_total",
			Help:      "Total listings that could not be decoded or processed.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of listings per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-enrich-load cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Geocoding API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"provider"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_primary_enabled",
			Help:      "1 when the primary geocoding provider is enabled, 0 otherwise.",
		}),
		EnrichmentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_runs_total",
			Help:      "Enrichment runs by final state.",
		}, []string{"state"}),
		AdapterRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_requests_total",
			Help:      "Provider adapter attempts by adapter and outcome.",
		}, []string{"adapter", "outcome"}),
		AdapterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adapter_duration_seconds",
			Help:      "Provider adapter attempt duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"adapter"}),
		AdapterRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_retries_total",
			Help:      "Provider adapter retries by adapter and failure kind.",
		}, []string{"adapter", "kind"}),
		BudgetInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_in_flight",
			Help:      "External provider calls currently holding a budget slot.",
		}),
		EnrichmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrichment_duration_seconds",
			Help:      "Duration of a complete enrichment run for one listing.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		ScoresComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_computed_total",
			Help:      "Total score results computed, including re-scores.",
		}),
		ScoringErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_errors_total",
			Help:      "Score computations that failed, by reason.",
		}, []string{"reason"}),
		RescoreRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rescore_runs_total",
			Help:      "Re-score passes by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		RescoreListings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rescore_listings_total",
			Help:      "Listings visited by re-score passes, by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesConsumed,
		m.MessagesProduced,
		m.ProcessErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.EnrichmentRuns,
		m.AdapterRequests,
		m.AdapterDuration,
		m.AdapterRetries,
		m.BudgetInFlight,
		m.EnrichmentDuration,
		m.ScoresComputed,
		m.ScoringErrors,
		m.RescoreRuns,
		m.RescoreListings,
	}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered on a fresh registry to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}
