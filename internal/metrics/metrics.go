// Package metrics exposes Prometheus collectors and the metrics/health
// HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the execution engine.
var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "execd",
		Name:      "orders_total",
		Help:      "Orders recorded in the ledger by symbol, side and status.",
	}, []string{"symbol", "side", "status"})

	ViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "execd",
		Name:      "violations_total",
		Help:      "Hard-constraint violations by rule code.",
	}, []string{"rule"})

	DuplicatesBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "execd",
		Name:      "duplicates_blocked_total",
		Help:      "Intents blocked by the duplicate guard before any network call.",
	})

	PositionsPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "execd",
		Name:      "positions_pending",
		Help:      "PENDING position rows awaiting broker confirmation.",
	}, []string{"symbol"})

	ReconcilePromoted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "execd",
		Name:      "reconcile_promoted_total",
		Help:      "PENDING positions promoted to OPEN by reconciliation.",
	})

	ReconcileExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "execd",
		Name:      "reconcile_expired_total",
		Help:      "PENDING positions expired as stale by reconciliation.",
	})

	InconsistenciesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "execd",
		Name:      "inconsistencies_total",
		Help:      "Data-integrity events requiring manual reconciliation.",
	}, []string{"kind"})

	SubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "execd",
		Name:      "submit_latency_seconds",
		Help:      "Broker submission latency including retries.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	FillWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "execd",
		Name:      "fill_wait_seconds",
		Help:      "Time spent waiting for phase fill confirmation.",
		Buckets:   prometheus.LinearBuckets(2, 6, 10),
	})

	BatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "execd",
		Name:      "batches_total",
		Help:      "Execution batches processed.",
	})
)
