// Package jobmetrics instruments background tasks.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by every task handler.
type Metrics struct {
	runs           *prometheus.CounterVec
	failures       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	pricingVersion prometheus.Gauge
	purgedKeys     prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers collectors on registerer, or once on the default
// registerer when it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer != nil {
		return register(registerer)
	}
	defaultOnce.Do(func() {
		defaultMetrics = register(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_total",
			Help: "Task executions by task type and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_failures_total",
			Help: "Failed task executions by task type.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_job_duration_seconds",
			Help:    "Task execution time in seconds.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 30},
		}, []string{"job"}),
		pricingVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "odyssey_pricing_cache_version",
			Help: "Discount cache version set by the last bump.",
		}),
		purgedKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_idempotency_keys_purged_total",
			Help: "Idempotency keys removed by the cleanup task.",
		}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.pricingVersion, m.purgedKeys)
	return m
}

// Tracker times one task run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job. A nil receiver yields a no-op tracker.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the outcome and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// SetPricingCacheVersion records the discount cache version after a bump.
func (m *Metrics) SetPricingCacheVersion(version int64) {
	if m == nil {
		return
	}
	m.pricingVersion.Set(float64(version))
}

// AddPurgedKeys counts idempotency keys removed by cleanup.
func (m *Metrics) AddPurgedKeys(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.purgedKeys.Add(float64(count))
}
