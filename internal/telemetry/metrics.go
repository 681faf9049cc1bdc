// Package telemetry exposes fixture run metrics and tracing setup.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/abates/network-lab-runner/fixture"
)

const namespace = "lab_fixtures"

var _ fixture.Observer = (*Metrics)(nil)

// Metrics counts fixture progress. A CLI run is short lived, so the
// registry is written to a node_exporter textfile instead of being scraped.
type Metrics struct {
	registry *prometheus.Registry

	exported *prometheus.CounterVec
	cleared  *prometheus.CounterVec
	loaded   *prometheus.CounterVec

	lastRun  *prometheus.GaugeVec
	duration *prometheus.GaugeVec
	success  *prometheus.GaugeVec
}

// NewMetrics creates the fixture metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		exported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_exported_total",
			Help:      "Records exported per collection.",
		}, []string{"collection"}),
		cleared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collections_cleared_total",
			Help:      "Collections cleared, by delete path.",
		}, []string{"collection", "mode"}),
		loaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_loaded_total",
			Help:      "Records loaded per collection.",
		}, []string{"collection"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run of a command finished.",
		}, []string{"command"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run of a command.",
		}, []string{"command"}),
		success: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 when the last run of a command succeeded, 0 otherwise.",
		}, []string{"command"}),
	}
	m.registry.MustRegister(m.exported, m.cleared, m.loaded, m.lastRun, m.duration, m.success)
	return m
}

// Registry returns the registry holding the fixture metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CollectionExported counts records exported from collection.
func (m *Metrics) CollectionExported(collection string, records int) {
	m.exported.WithLabelValues(collection).Add(float64(records))
}

// CollectionCleared counts a clear of collection by delete path.
func (m *Metrics) CollectionCleared(collection string, mode fixture.ClearMode) {
	m.cleared.WithLabelValues(collection, string(mode)).Inc()
}

// CollectionLoaded counts records loaded into collection.
func (m *Metrics) CollectionLoaded(collection string, records int) {
	m.loaded.WithLabelValues(collection).Add(float64(records))
}

// RecordRun records the outcome of a command that started at start.
func (m *Metrics) RecordRun(command string, start time.Time, err error) {
	now := time.Now()
	m.lastRun.WithLabelValues(command).Set(float64(now.Unix()))
	m.duration.WithLabelValues(command).Set(now.Sub(start).Seconds())
	ok := 0.0
	if err == nil {
		ok = 1
	}
	m.success.WithLabelValues(command).Set(ok)
}

// WriteTextfile writes the metrics in the text exposition format. The file
// is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
