package monitor

import (
	"github.com/margo/rust-builder/agent/database"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the builder's Prometheus collectors.
type Metrics struct {
	cycles        *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	buildDuration prometheus.Histogram
	lastBuild     *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rust_builder_cycles_total",
			Help: "Number of target cycles by outcome.",
		}, []string{"outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rust_builder_uploads_total",
			Help: "Number of binary uploads by result.",
		}, []string{"result"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rust_builder_build_duration_seconds",
			Help:    "Duration of release builds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		lastBuild: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rust_builder_last_build_timestamp_seconds",
			Help: "Unix time of the last successful build per target.",
		}, []string{"target"}),
	}
	reg.MustRegister(m.cycles, m.uploads, m.buildDuration, m.lastBuild)
	return m
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(report CycleReport) {
	m.cycles.WithLabelValues(string(report.Outcome)).Inc()
	if report.BuildDuration > 0 {
		m.buildDuration.Observe(report.BuildDuration.Seconds())
	}
	for _, upload := range report.Uploads {
		result := "success"
		if !upload.Succeeded() {
			result = "failure"
		}
		m.uploads.WithLabelValues(result).Inc()
	}
}

// ObserveBuildEvent tracks build-state changes; subscribe it to the database.
func (m *Metrics) ObserveBuildEvent(event database.BuildEvent) {
	if event.Type == database.EventTargetBuilt {
		m.lastBuild.WithLabelValues(event.TargetID).Set(float64(event.Timestamp.Unix()))
	}
}
