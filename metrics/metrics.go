package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PayoutsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payouts_submitted_total",
		Help: "Transaction envelopes submitted to the network.",
	})

	PayoutsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payouts_completed_total",
		Help: "Payouts confirmed on-chain and completed with the platform.",
	})

	PayoutsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payouts_failed_total",
		Help: "Payouts that ended in a terminal failure.",
	}, []string{"reason"})

	PayoutRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payout_retries_total",
		Help: "Retryable-rejection cycles across all payouts.",
	})

	SubmissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payout_submission_duration_seconds",
		Help:    "Latency of transaction submission calls.",
		Buckets: prometheus.DefBuckets,
	})
)
