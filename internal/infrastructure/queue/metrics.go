package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bountychain",
		Subsystem: "queue",
		Name:      "jobs_enqueued_total",
		Help:      "Jobs accepted by Enqueue, deduplicated enqueues excluded.",
	}, []string{"queue"})

	processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bountychain",
		Subsystem: "queue",
		Name:      "jobs_processed_total",
		Help:      "Jobs whose handler returned without error.",
	}, []string{"queue"})

	retriedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bountychain",
		Subsystem: "queue",
		Name:      "jobs_retried_total",
		Help:      "Handler failures scheduled for a delayed retry.",
	}, []string{"queue"})

	failedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bountychain",
		Subsystem: "queue",
		Name:      "jobs_failed_total",
		Help:      "Jobs parked in the failed hash after exhausting attempts.",
	}, []string{"queue"})

	handlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bountychain",
		Subsystem: "queue",
		Name:      "handler_duration_seconds",
		Help:      "Handler execution time.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 3, 10),
	}, []string{"queue"})
)
