package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stablepay_payments_total",
			Help: "Payments recorded in the ledger",
		},
		[]string{"rail", "status"},
	)
	RefundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stablepay_refunds_total",
			Help: "Refunds recorded against ledger transactions",
		},
		[]string{"status"},
	)
	IdempotentReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stablepay_idempotent_replays_total",
			Help: "Requests answered from an already-resolved idempotency key",
		},
	)
	ReconciliationMatchRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stablepay_reconciliation_match_rate",
			Help: "Match rate of the most recent reconciliation run per provider",
		},
		[]string{"provider"},
	)
	ReconciliationDiscrepancies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stablepay_reconciliation_discrepancies_total",
			Help: "Discrepancies flagged by reconciliation runs",
		},
		[]string{"provider"},
	)
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stablepay_worker_queue_depth",
			Help: "Capture jobs waiting in the worker pool",
		},
	)
)

// Handler serves /metrics.
var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(PaymentsTotal)
	prometheus.MustRegister(RefundsTotal)
	prometheus.MustRegister(IdempotentReplays)
	prometheus.MustRegister(ReconciliationMatchRate)
	prometheus.MustRegister(ReconciliationDiscrepancies)
	prometheus.MustRegister(WorkerQueueDepth)
}
