package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "cloud_costs"

// Metrics tracks refresh cycles. Register it on the registry served at /metrics.
type Metrics struct {
	Cycles        *prometheus.CounterVec
	FetchErrors   *prometheus.CounterVec
	Rows          *prometheus.CounterVec
	CycleDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "refresh_cycles_total",
				Help:      "Refresh cycles by outcome (ok, empty, error).",
			},
			[]string{"status"},
		),
		FetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "provider_fetch_errors_total",
				Help:      "Failed provider fetches.",
			},
			[]string{"provider"},
		),
		Rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "refresh_rows_total",
				Help:      "Normalized rows by outcome (persisted, skipped).",
			},
			[]string{"outcome"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      "refresh_duration_seconds",
				Help:      "Duration of a refresh cycle.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
			},
		),
	}
	reg.MustRegister(m.Cycles, m.FetchErrors, m.Rows, m.CycleDuration)
	return m
}
