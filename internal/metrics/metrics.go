// Package metrics exposes Prometheus collectors for the orchestration service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal       *prometheus.CounterVec
	targetsTotal    *prometheus.CounterVec
	resultsTotal    prometheus.Counter
	deliveriesTotal *prometheus.CounterVec
	schedulerTicks  prometheus.Counter
	lockContentions prometheus.Counter
	activeJobs      prometheus.Gauge
	jobDurationSecs prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studio_jobs_total",
				Help: "Scrape jobs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)
		targetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studio_targets_total",
				Help: "Targets processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		resultsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "studio_results_total",
				Help: "Analyzed results persisted.",
			},
		)
		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studio_webhook_deliveries_total",
				Help: "Webhook delivery attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		schedulerTicks = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "studio_scheduler_ticks_total",
				Help: "Scheduler scan iterations.",
			},
		)
		lockContentions = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "studio_lock_contentions_total",
				Help: "Run attempts skipped because the project lock was held.",
			},
		)
		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "studio_active_jobs",
				Help: "Jobs currently executing.",
			},
		)
		jobDurationSecs = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "studio_job_duration_seconds",
				Help:    "End-to-end scrape job duration.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// JobFinished records a terminal job transition.
func JobFinished(status string, durationSeconds float64) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(status).Inc()
	jobDurationSecs.Observe(durationSeconds)
}

// TargetProcessed records one target outcome ("ok" or "error").
func TargetProcessed(outcome string) {
	if targetsTotal == nil {
		return
	}
	targetsTotal.WithLabelValues(outcome).Inc()
}

// ResultStored counts one persisted result.
func ResultStored() {
	if resultsTotal == nil {
		return
	}
	resultsTotal.Inc()
}

// DeliveryFinished records one webhook delivery attempt outcome
// ("delivered", "retried" or "exhausted").
func DeliveryFinished(outcome string) {
	if deliveriesTotal == nil {
		return
	}
	deliveriesTotal.WithLabelValues(outcome).Inc()
}

// SchedulerTick counts one scan of due schedules.
func SchedulerTick() {
	if schedulerTicks == nil {
		return
	}
	schedulerTicks.Inc()
}

// LockContention counts a skipped run due to a held project lock.
func LockContention() {
	if lockContentions == nil {
		return
	}
	lockContentions.Inc()
}

// JobStarted increments the active job gauge.
func JobStarted() {
	if activeJobs == nil {
		return
	}
	activeJobs.Inc()
}

// JobEnded decrements the active job gauge.
func JobEnded() {
	if activeJobs == nil {
		return
	}
	activeJobs.Dec()
}
