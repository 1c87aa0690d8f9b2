package approval

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the approval gate.
type Metrics struct {
	DecisionsTotal *prometheus.CounterVec
	WaitDuration   prometheus.Histogram
	Pending        prometheus.Gauge
}

// NewMetrics creates and registers the gate metrics on the default registry.
// Registration happens once per process; later calls return the same set.
//
// Metrics:
//   - vizloop_approval_decisions_total{decision,source}
//   - vizloop_approval_wait_seconds
//   - vizloop_approval_pending
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			DecisionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vizloop_approval_decisions_total",
					Help: "Total approval decisions by outcome and source",
				},
				[]string{"decision", "source"}, // "approved"/"denied"; auto, policy, operator, timeout
			),
			WaitDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "vizloop_approval_wait_seconds",
					Help:    "Time an iteration spent waiting for an approval decision",
					Buckets: []float64{0.01, 1, 5, 30, 60, 300, 600, 1800},
				},
			),
			Pending: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "vizloop_approval_pending",
					Help: "Approval requests currently waiting for a decision",
				},
			),
		}
	})
	return globalMetrics
}

func (m *Metrics) observe(d Decision, seconds float64) {
	if m == nil {
		return
	}
	outcome := "denied"
	if d.Approved {
		outcome = "approved"
	}
	m.DecisionsTotal.WithLabelValues(outcome, string(d.Source)).Inc()
	m.WaitDuration.Observe(seconds)
}
