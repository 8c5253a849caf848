package signals

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts handled control signals by kind and outcome.
type Metrics struct {
	handled *prometheus.CounterVec
}

// MustNewMetrics registers the signal metrics on reg.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "signals",
			Name:      "handled_total",
			Help:      "Control signals handled, by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	reg.MustRegister(m.handled)
	return m
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

func (m *Metrics) observe(kind Kind, success bool) {
	outcome := "accepted"
	if !success {
		outcome = "rejected"
	}
	m.handled.WithLabelValues(string(kind), outcome).Inc()
}
