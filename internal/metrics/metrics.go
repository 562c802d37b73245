// Package metrics exposes the engine's Prometheus instrumentation. All
// methods are nil-receiver safe so callers can run without metrics wired.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine's collectors.
type Metrics struct {
	swapsTotal    *prometheus.CounterVec
	swapDuration  *prometheus.HistogramVec
	feesCharged   prometheus.Counter
	quoteDuration prometheus.Histogram
	venuesActive  prometheus.Gauge
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		swapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aggregator",
			Name:      "swaps_total",
			Help:      "Swap operations by execution mode and outcome.",
		}, []string{"mode", "outcome"}),
		swapDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aggregator",
			Name:      "swap_duration_seconds",
			Help:      "Swap execution latency by mode.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		feesCharged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aggregator",
			Name:      "fees_charged_total",
			Help:      "Swaps on which a protocol fee was taken.",
		}),
		quoteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aggregator",
			Name:      "quote_scan_duration_seconds",
			Help:      "Latency of aggregate quote scans across all venues.",
			Buckets:   prometheus.DefBuckets,
		}),
		venuesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aggregator",
			Name:      "venues_active",
			Help:      "Number of currently registered venue adapters.",
		}),
	}
	reg.MustRegister(m.swapsTotal, m.swapDuration, m.feesCharged,
		m.quoteDuration, m.venuesActive)
	return m
}

// ObserveSwap records one swap attempt.
func (m *Metrics) ObserveSwap(mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.swapsTotal.WithLabelValues(mode, outcome).Inc()
	m.swapDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// FeeCharged records that a protocol fee was taken.
func (m *Metrics) FeeCharged() {
	if m == nil {
		return
	}
	m.feesCharged.Inc()
}

// ObserveQuoteScan records one aggregate quote fan-out.
func (m *Metrics) ObserveQuoteScan(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.quoteDuration.Observe(elapsed.Seconds())
}

// SetVenueCount tracks the registry size.
func (m *Metrics) SetVenueCount(n int) {
	if m == nil {
		return
	}
	m.venuesActive.Set(float64(n))
}
