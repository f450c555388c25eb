package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fcnv2"

// Metrics holds the Prometheus counters, histograms, and gauges for the forecast service.
type Metrics struct {
	RequestsConsumed prometheus.Counter
	ResultsProduced  prometheus.Counter
	ForecastFailures *prometheus.CounterVec // labels: stage={parse,input,forecast,write,serialize}
	PipelineRunning  prometheus.Gauge

	// Forecast execution metrics.
	StepsCompleted   prometheus.Counter
	StepDuration     prometheus.Histogram
	ForecastDuration prometheus.Histogram
	NaNFields        prometheus.Counter

	// Network cache metrics.
	NetworkCache     *prometheus.CounterVec // labels: result={hit,miss}
	NetworkLoadDelay prometheus.Histogram

	// Asset download metrics.
	AssetDownloads *prometheus.CounterVec // labels: outcome={success,error,skipped}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RequestsConsumed,
		m.ResultsProduced,
		m.ForecastFailures,
		m.PipelineRunning,
		m.StepsCompleted,
		m.StepDuration,
		m.ForecastDuration,
		m.NaNFields,
		m.NetworkCache,
		m.NetworkLoadDelay,
		m.AssetDownloads,
	)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RequestsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_consumed_total",
			Help:      "Total forecast requests read from the request topic.",
		}),
		ResultsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_produced_total",
			Help:      "Total forecast results written to the result topic.",
		}),
		ForecastFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_failures_total",
			Help:      "Forecast requests that ended in a failed result, by stage.",
		}, []string{"stage"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		StepsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_completed_total",
			Help:      "Total autoregressive 6h steps executed.",
		}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of one forward pass including denormalisation and output.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		ForecastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forecast_duration_seconds",
			Help:      "Duration of a complete forecast run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		NaNFields: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nan_fields_total",
			Help:      "Output fields rejected because they contained NaN values.",
		}),
		NetworkCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_cache_total",
			Help:      "Network cache lookups by result.",
		}, []string{"result"}),
		NetworkLoadDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "network_load_duration_seconds",
			Help:      "Time spent loading and compiling the network on a cache miss.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		AssetDownloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_downloads_total",
			Help:      "Asset download attempts by outcome.",
		}, []string{"outcome"}),
	}
}
