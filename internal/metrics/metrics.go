package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// File outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	Files        *prometheus.CounterVec
	Rows         *prometheus.CounterVec
	Warnings     *prometheus.CounterVec
	FileDuration prometheus.Histogram
	QueueDepth   prometheus.Gauge
	registry     *prometheus.Registry
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Files: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usageprep_files_total",
			Help: "Participant files handled, by outcome.",
		}, []string{"outcome"}),
		Rows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usageprep_rows_total",
			Help: "Rows written to the enriched tables, by interaction type.",
		}, []string{"interaction_type"}),
		Warnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usageprep_data_warnings_total",
			Help: "Data-quality observations, by kind.",
		}, []string{"kind"}),
		FileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "usageprep_file_duration_seconds",
			Help:    "Time to process one participant file.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "usageprep_queue_depth",
			Help: "Files waiting to be processed by the daemon.",
		}),
		registry: reg,
	}
}

func (m *Metrics) ObserveFile(outcome string, elapsed time.Duration) {
	m.Files.WithLabelValues(outcome).Inc()
	m.FileDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
