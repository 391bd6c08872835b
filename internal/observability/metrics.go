package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rainfall_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// synchronizer and the feature pipeline.
type Metrics struct {
	// Synchronizer metrics.
	SyncDates     *prometheus.CounterVec // labels: outcome={updated,unchanged,skipped,verification_failed,failed}
	RemoteChecks  *prometheus.CounterVec // labels: outcome={found,not_found,error}
	FetchAttempts *prometheus.CounterVec // labels: outcome={success,retry,error}
	FetchDuration prometheus.Histogram
	PrunedEntries prometheus.Counter
	PruneErrors   prometheus.Counter

	// Feature pipeline metrics.
	FeatureDates     *prometheus.CounterVec // labels: outcome={ok,failed,cancelled}
	StageFailures    *prometheus.CounterVec // labels: stage
	FeatureRows      prometheus.Counter
	MissingDays      prometheus.Counter
	UnreadableDays   prometheus.Counter
	StaticJoinMisses prometheus.Counter
	FeatureDuration  prometheus.Histogram
	PipelineRunning  prometheus.Gauge
	LastSuccess      prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		SyncDates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_dates_total",
			Help:      "Dates processed by the synchronizer by outcome.",
		}, []string{"outcome"}),
		RemoteChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_checks_total",
			Help:      "Remote metadata probes by outcome.",
		}, []string{"outcome"}),
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Archive download attempts by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a successful archive download including retries.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		PrunedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_entries_total",
			Help:      "Cache entries removed by retention.",
		}),
		PruneErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prune_errors_total",
			Help:      "Cache entries that could not be removed.",
		}),
		FeatureDates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_dates_total",
			Help:      "Target dates processed by the feature pipeline by outcome.",
		}, []string{"outcome"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Feature pipeline failures by stage.",
		}, []string{"stage"}),
		FeatureRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_rows_total",
			Help:      "Feature rows written.",
		}),
		MissingDays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_missing_days_total",
			Help:      "Window days with no raster, filled with zeros.",
		}),
		UnreadableDays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_unreadable_days_total",
			Help:      "Window days whose raster failed to read, filled with zeros.",
		}),
		StaticJoinMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "static_join_misses_total",
			Help:      "Cells with no static attribute match.",
		}),
		FeatureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feature_date_duration_seconds",
			Help:      "Duration of one target date from extraction to the last sink.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a pipeline run is active, 0 otherwise.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last target date written successfully.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SyncDates,
		m.RemoteChecks,
		m.FetchAttempts,
		m.FetchDuration,
		m.PrunedEntries,
		m.PruneErrors,
		m.FeatureDates,
		m.StageFailures,
		m.FeatureRows,
		m.MissingDays,
		m.UnreadableDays,
		m.StaticJoinMisses,
		m.FeatureDuration,
		m.PipelineRunning,
		m.LastSuccess,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// Register adds the metrics to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
