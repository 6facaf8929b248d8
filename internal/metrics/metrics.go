// Package metrics holds the Prometheus instruments of a normalization run.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vmdb"

// Metrics holds the counters and gauges of one run. Every run uses its own
// registry because a run is a short-lived batch job.
type Metrics struct {
	Registry *prometheus.Registry

	RecordsRead    *prometheus.CounterVec // labels: normalizer
	RecordsWritten *prometheus.CounterVec // labels: normalizer
	Conflicts      *prometheus.CounterVec // labels: normalizer, reason
	Links          *prometheus.CounterVec // labels: kind={equal,contained}
	ImportRows     *prometheus.CounterVec // labels: kind, outcome={imported,rejected}
	RunDuration    prometheus.Gauge
	LastSuccess    prometheus.Gauge
}

// New creates the run metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RecordsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Staged records read by each normalizer.",
		}, []string{"normalizer"}),
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Canonical records written by each normalizer.",
		}, []string{"normalizer"}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Records dropped because of a per-record conflict.",
		}, []string{"normalizer", "reason"}),
		Links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_total",
			Help:      "Rate to magnitude links written, by kind.",
		}, []string{"kind"}),
		ImportRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "CSV rows processed by the importer.",
		}, []string{"kind", "outcome"}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that completed.",
		}),
	}

	m.Registry.MustRegister(
		m.RecordsRead,
		m.RecordsWritten,
		m.Conflicts,
		m.Links,
		m.ImportRows,
		m.RunDuration,
		m.LastSuccess,
	)

	return m
}

// WriteTextfile writes the registry in the text exposition format for the
// node_exporter textfile collector. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("error writing metrics to %s: %w", path, err)
	}
	return nil
}
