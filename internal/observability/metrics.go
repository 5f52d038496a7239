package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	CheckoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_transactions_created_total",
			Help: "Transactions created, by initial status",
		},
		[]string{"status"},
	)

	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_status_transitions_total",
			Help: "Transaction status transitions",
		},
		[]string{"from", "to"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checkout_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "checkout_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	ExpiredTransactionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_expired_transactions_total",
			Help: "Transactions expired by the sweep worker",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
