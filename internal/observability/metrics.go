// Package observability holds the Prometheus metrics of the core-banking service.
// Metrics are registered on the default registry and served by promhttp.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Movement outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeReplayed  = "replayed"
	OutcomeRejected  = "rejected"
	OutcomeRetryable = "retryable"
	OutcomeError     = "error"
)

// ─── Money movement ─────────────────────────────────────────────────────────

var MovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "core_banking",
	Name:      "movements_total",
	Help:      "Money movements handled by the engine, by type and outcome.",
}, []string{"type", "outcome"})

var MovementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "core_banking",
	Name:      "movement_duration_seconds",
	Help:      "Wall time of a money movement including its unit of work.",
	Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
}, []string{"type"})

// ─── Events ─────────────────────────────────────────────────────────────────

var EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "core_banking",
	Name:      "events_published_total",
	Help:      "Events handed to the broker, by topic and outcome.",
}, []string{"topic", "outcome"})

// ─── Scheduler ──────────────────────────────────────────────────────────────

var SchedulerSubscriptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "core_banking",
	Subsystem: "scheduler",
	Name:      "subscriptions_total",
	Help:      "Due subscriptions processed by the recurring payment scheduler, by outcome.",
}, []string{"outcome"})

var SchedulerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "core_banking",
	Subsystem: "scheduler",
	Name:      "tick_duration_seconds",
	Help:      "Duration of one scheduler tick.",
	Buckets:   prometheus.DefBuckets,
})

// ─── HTTP ───────────────────────────────────────────────────────────────────

var RateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "core_banking",
	Name:      "rate_limited_total",
	Help:      "Money movement requests rejected by the rate limiter.",
})
