package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SettlementRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_runs_total",
		Help: "Total number of settlement batch runs",
	}, []string{"mode"})

	SettlementMerchantOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_merchant_outcomes_total",
		Help: "Per-merchant outcomes across settlement batch runs",
	}, []string{"outcome"})

	SettlementBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_batch_duration_seconds",
		Help:    "Duration of settlement batch runs",
		Buckets: prometheus.DefBuckets,
	})

	PayoutsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payouts_created_total",
		Help: "Total number of payout transactions created",
	})

	PayoutAmountCentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payout_amount_cents_total",
		Help: "Total payout amount created, in cents",
	})

	PayoutStatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_status_transitions_total",
		Help: "Total number of payout status transitions applied",
	}, []string{"to_status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
