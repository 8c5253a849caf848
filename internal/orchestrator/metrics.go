package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report orchestrator activity.
type Metrics struct {
	tasksActive         prometheus.Gauge
	taskDuration        *prometheus.HistogramVec
	admissionRejections prometheus.Counter
	duplicateSubmits    prometheus.Counter
	sideChannelFailures *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with the
// global Prometheus registry. The collectors are created only once to avoid
// duplicate registration panics when the orchestrator is instantiated multiple
// times.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// The caller is responsible for supplying a fresh registry when unique metric
// names are required (for example in tests). Any registration error panics,
// mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	tasksActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "conductor",
			Subsystem: "orchestrator",
			Name:      "tasks_active",
			Help:      "Number of tasks currently executing.",
		},
	)
	taskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "orchestrator",
			Name:      "task_duration_seconds",
			Help:      "Wall-clock duration of finalized tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"status"},
	)
	admissionRejections := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "orchestrator",
			Name:      "admission_rejections_total",
			Help:      "Submissions rejected because the running-task ceiling was reached.",
		},
	)
	duplicateSubmits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "orchestrator",
			Name:      "duplicate_submissions_total",
			Help:      "Submissions short-circuited by an idempotency-key match.",
		},
	)
	sideChannelFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "orchestrator",
			Name:      "side_channel_failures_total",
			Help:      "Best-effort side-channel operations that failed and were logged.",
		},
		[]string{"channel"},
	)

	collectors := []prometheus.Collector{
		tasksActive, taskDuration, admissionRejections, duplicateSubmits, sideChannelFailures,
	}
	for _, collector := range collectors {
		reg.MustRegister(collector)
	}

	return &Metrics{
		tasksActive:         tasksActive,
		taskDuration:        taskDuration,
		admissionRejections: admissionRejections,
		duplicateSubmits:    duplicateSubmits,
		sideChannelFailures: sideChannelFailures,
	}
}
