package inventory

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for ledger operations. It
// satisfies Observer.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the ledger collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tinco_inventory_operations_total",
		Help: "Ledger operations partitioned by operation and result kind.",
	}, []string{"op", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tinco_inventory_operation_duration_seconds",
		Help:    "Duration of ledger operations including the transaction.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	registerer.MustRegister(ops, duration)
	return &Metrics{operations: ops, duration: duration}
}

// ObserveOperation records one finished operation.
func (m *Metrics) ObserveOperation(op string, kind Kind, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if kind != "" {
		result = string(kind)
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}
