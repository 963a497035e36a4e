package library

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts lending and catalog operations. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	OpsTotal  *prometheus.CounterVec   // op, result=committed|<reason>|error
	OpLatency *prometheus.HistogramVec // op

	ActiveLoans        prometheus.Gauge
	ActiveReservations prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "library_ops_total",
				Help: "Library operations by outcome",
			},
			[]string{"op", "result"},
		),
		OpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "library_op_latency_seconds",
				Help:    "Latency of library operations, journal write included",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs .. ~800ms
			},
			[]string{"op"},
		),
		ActiveLoans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "library_active_loans",
			Help: "Items currently borrowed",
		}),
		ActiveReservations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "library_active_reservations",
			Help: "Items currently reserved",
		}),
	}

	reg.MustRegister(
		m.OpsTotal,
		m.OpLatency,
		m.ActiveLoans,
		m.ActiveReservations,
	)

	return m
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "committed"
	if err != nil {
		if reason, ok := ReasonOf(err); ok {
			result = string(reason)
		} else {
			result = "error"
		}
	}
	m.OpsTotal.WithLabelValues(op, result).Inc()
	m.OpLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) loans(delta float64) {
	if m == nil {
		return
	}
	m.ActiveLoans.Add(delta)
}

func (m *Metrics) reservations(delta float64) {
	if m == nil {
		return
	}
	m.ActiveReservations.Add(delta)
}
