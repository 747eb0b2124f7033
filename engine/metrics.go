package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "auria"

// Metrics are the engine's Prometheus collectors.
type Metrics struct {
	Requests         *prometheus.CounterVec
	AssemblyDuration prometheus.Histogram
	Settlements      prometheus.Counter
	Pending          prometheus.Gauge
}

// NewMetrics registers the engine collectors with reg. A nil reg yields
// working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Execution requests by outcome (ok or error kind)",
		}, []string{"outcome"}),
		AssemblyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "assembly_duration_seconds",
			Help:      "Time spent assembling experts, successful or not",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		Settlements: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "settlements_total",
			Help:      "Receipts committed",
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "pending_settlements",
			Help:      "Executions whose settlement failed with a storage error and awaits retry",
		}),
	}
}
