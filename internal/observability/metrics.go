package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aeronet_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the pipeline.
type Metrics struct {
	FilesCleaned    *prometheus.CounterVec // labels: product, outcome={cleaned,skipped}
	RowsRead        *prometheus.CounterVec // labels: product
	RowsDropped     *prometheus.CounterVec // labels: product
	RowsWritten     *prometheus.CounterVec // labels: stage
	StageErrors     *prometheus.CounterVec // labels: stage, kind
	StageDuration   *prometheus.HistogramVec
	MergedRows      prometheus.Gauge
	RowsPublished   prometheus.Counter
	PipelineRunning prometheus.Gauge

	registry *prometheus.Registry
}

func newMetrics() *Metrics {
	return &Metrics{
		FilesCleaned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_cleaned_total",
			Help:      "Raw files processed by the record cleaner, by product and outcome.",
		}, []string{"product", "outcome"}),
		RowsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_read_total",
			Help:      "Raw rows loaded, by product.",
		}, []string{"product"}),
		RowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "Raw rows dropped for missing values, by product.",
		}, []string{"product"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written to stage artifacts, by stage.",
		}, []string{"stage"}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Stage failures by stage and error kind.",
		}, []string{"stage", "kind"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		MergedRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "merged_rows",
			Help:      "Rows in the merged table of the last run.",
		}),
		RowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_published_total",
			Help:      "Derived rows published to the sink topic.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is active, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FilesCleaned,
		m.RowsRead,
		m.RowsDropped,
		m.RowsWritten,
		m.StageErrors,
		m.StageDuration,
		m.MergedRows,
		m.RowsPublished,
		m.PipelineRunning,
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(m.collectors()...)
	return m
}

// Gatherer returns the registry the metrics were registered with.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry != nil {
		return m.registry
	}
	return prometheus.DefaultGatherer
}

// WriteTextfile writes the current metrics in the Prometheus text format,
// for pickup by the node_exporter textfile collector. The file is replaced
// atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Gatherer()); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
