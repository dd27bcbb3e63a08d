package libtracker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsTracker counts operations and observes their latency.
type MetricsTracker struct {
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
	changes *prometheus.CounterVec
}

// NewMetricsTracker registers its collectors on reg.
func NewMetricsTracker(reg prometheus.Registerer) (*MetricsTracker, error) {
	m := &MetricsTracker{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inbox",
			Name:      "operations_total",
			Help:      "Operations by subject, operation and outcome.",
		}, []string{"subject", "operation", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "inbox",
			Name:      "operation_duration_seconds",
			Help:      "Operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"subject", "operation"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inbox",
			Name:      "changes_total",
			Help:      "Reported entity changes.",
		}, []string{"subject", "operation"}),
	}
	for _, c := range []prometheus.Collector{m.ops, m.latency, m.changes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MetricsTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	start := time.Now()
	status := "ok"
	return func(err error) {
			if err != nil {
				status = "error"
			}
		}, func(string, any) {
			m.changes.WithLabelValues(subject, operation).Inc()
		}, func() {
			m.ops.WithLabelValues(subject, operation, status).Inc()
			m.latency.WithLabelValues(subject, operation).Observe(time.Since(start).Seconds())
		}
}

var _ ActivityTracker = (*MetricsTracker)(nil)
