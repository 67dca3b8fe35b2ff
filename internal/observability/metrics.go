package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "emd"

// Metrics holds the Prometheus counters, histograms, and gauges for an analysis run.
type Metrics struct {
	ObservationsRead    prometheus.Counter
	ObservationsMissing prometheus.Counter

	SignaturesBuilt   prometheus.Counter
	SignatureErrors   *prometheus.CounterVec // labels: reason={empty,degenerate,invalid}
	PairsTotal        prometheus.Gauge
	PairsComputed     prometheus.Counter
	PipelineRunning   prometheus.Gauge
	StageDuration     *prometheus.HistogramVec // labels: stage={extract,transform,assemble,analyze,load}
	TriangleViolation prometheus.Gauge

	// Transport oracle metrics.
	OracleCalls    *prometheus.CounterVec // labels: outcome={success,error}
	OracleDuration prometheus.Histogram
	OracleCache    *prometheus.CounterVec // labels: result={hit,miss,shared}
}

func newMetrics() *Metrics {
	return &Metrics{
		ObservationsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_read_total",
			Help:      "Total observation rows read from source tiles.",
		}),
		ObservationsMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_missing_total",
			Help:      "Observation rows whose value was NA or NaN.",
		}),
		SignaturesBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_built_total",
			Help:      "Grid signatures successfully normalized.",
		}),
		SignatureErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signature_errors_total",
			Help:      "Signature construction failures by reason.",
		}, []string{"reason"}),
		PairsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pairs_total",
			Help:      "Unique signature pairs scheduled for the distance matrix.",
		}),
		PairsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairs_computed_total",
			Help:      "Pairs whose distance has been written to the matrix.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while an analysis run is active, 0 otherwise.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 1200},
		}, []string{"stage"}),
		TriangleViolation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "triangle_violation_max",
			Help:      "Largest triangle-inequality violation found in the last matrix.",
		}),
		OracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Optimal-transport oracle invocations by outcome.",
		}, []string{"outcome"}),
		OracleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_duration_seconds",
			Help:      "Duration of a single optimal-transport solve.",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		OracleCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_cache_total",
			Help:      "Oracle cache lookups by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ObservationsRead,
		m.ObservationsMissing,
		m.SignaturesBuilt,
		m.SignatureErrors,
		m.PairsTotal,
		m.PairsComputed,
		m.PipelineRunning,
		m.StageDuration,
		m.TriangleViolation,
		m.OracleCalls,
		m.OracleDuration,
		m.OracleCache,
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered on a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}

// WriteTextfile dumps the default registry in the node-exporter textfile
// format. The batch job exits before any scrape could reach it.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
