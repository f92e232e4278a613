// Package metrics collects per-run counters for the decryptor. A run writes them once at
// exit in the node_exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all run metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	decryptedBytes  *prometheus.CounterVec
	partitionsTotal *prometheus.CounterVec
	regionDuration  *prometheus.HistogramVec
	runDuration     prometheus.Gauge
	keysLoaded      prometheus.Gauge
}

// NewMetrics creates a metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	return newMetricsWithRegistry(prometheus.NewRegistry())
}

func newMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		decryptedBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctrdec_decrypted_bytes_total",
				Help: "Total bytes passed through the AES-CTR keystream",
			},
			[]string{"region"}, // exheader, exefs, code, romfs
		),
		partitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctrdec_partitions_total",
				Help: "Partitions processed, by outcome",
			},
			[]string{"outcome"},
		),
		regionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ctrdec_region_duration_seconds",
				Help:    "Time spent decrypting one region",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"region"},
		),
		runDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ctrdec_run_duration_seconds",
				Help: "Wall time of the last run",
			},
		),
		keysLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ctrdec_keys_loaded",
				Help: "Number of entries in the key database",
			},
		),
	}
}

// RecordRegion records one decrypted region.
func (m *Metrics) RecordRegion(region string, bytes int64, d time.Duration) {
	if m == nil {
		return
	}
	m.decryptedBytes.WithLabelValues(region).Add(float64(bytes))
	m.regionDuration.WithLabelValues(region).Observe(d.Seconds())
}

// RecordPartition counts a partition by outcome.
func (m *Metrics) RecordPartition(outcome string) {
	if m == nil {
		return
	}
	m.partitionsTotal.WithLabelValues(outcome).Inc()
}

// SetRunDuration records the wall time of a run.
func (m *Metrics) SetRunDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Set(d.Seconds())
}

// SetKeysLoaded records the size of the key database.
func (m *Metrics) SetKeysLoaded(n int) {
	if m == nil {
		return
	}
	m.keysLoaded.Set(float64(n))
}

// Gatherer exposes the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteToTextfile writes all metrics to path atomically.
func (m *Metrics) WriteToTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
