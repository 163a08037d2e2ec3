package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background job runs.
type Metrics struct {
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rows     *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker instruments a single job run.
type Tracker struct {
	metrics *Metrics
	task    string
	start   time.Time
	now     func() time.Time
}

// Track starts a tracker for the given task type.
func (m *Metrics) Track(task string) *Tracker {
	return &Tracker{metrics: m, task: task, start: time.Now(), now: time.Now}
}

// End records duration, failures and the number of rows the run touched, then
// returns err untouched.
func (t *Tracker) End(rows int64, err error) error {
	if t == nil || t.metrics == nil || t.task == "" {
		return err
	}
	if err != nil {
		t.metrics.failures.WithLabelValues(t.task).Inc()
	} else if rows > 0 {
		t.metrics.rows.WithLabelValues(t.task).Add(float64(rows))
	}
	t.metrics.duration.WithLabelValues(t.task).Observe(t.now().Sub(t.start).Seconds())
	return err
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "itdesk_job_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"task"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "itdesk_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "itdesk_job_rows_total",
		Help: "Rows deactivated or deleted by retention jobs.",
	}, []string{"task"})
	registerer.MustRegister(failures, duration, rows)
	return &Metrics{failures: failures, duration: duration, rows: rows}
}
