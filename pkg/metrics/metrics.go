// Package metrics exposes Prometheus collectors for the settlement
// pipeline. All collectors are registered on the default registry and
// served from the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DepositsDetectedCounter counts deposit events emitted by the watcher
	DepositsDetectedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_deposits_detected_total",
			Help: "Total deposit events detected, by chain and watch mode",
		},
		[]string{"chain", "mode"},
	)

	// DepositsSettledCounter counts deposits settled end to end
	DepositsSettledCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_deposits_settled_total",
			Help: "Total deposits settled and credited, by chain and strategy",
		},
		[]string{"chain", "strategy"},
	)

	// DepositsFailedCounter counts terminal job failures
	DepositsFailedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_deposits_failed_total",
			Help: "Total deposit jobs that failed terminally, by chain and reason",
		},
		[]string{"chain", "reason"},
	)

	// DuplicateJobsCounter counts jobs dropped by idempotency checks
	DuplicateJobsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_duplicate_jobs_total",
			Help: "Total jobs dropped as duplicates at admission",
		},
		[]string{"chain"},
	)

	// JobDurationHistogram observes end-to-end job processing time
	JobDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_job_duration_seconds",
			Help:    "Deposit job processing duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"chain", "status"},
	)

	// QueueDepthGauge tracks jobs waiting for a worker slot
	QueueDepthGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlement_queue_depth",
			Help: "Jobs queued and waiting for a processing slot",
		},
	)

	// QueueRunningGauge tracks jobs currently executing
	QueueRunningGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlement_queue_running",
			Help: "Jobs currently executing",
		},
	)

	// SweepOutcomeCounter counts sweep results by outcome
	SweepOutcomeCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_sweep_outcomes_total",
			Help: "Sweep attempts by per-address outcome",
		},
		[]string{"chain", "outcome"},
	)

	// RPCCallCounter counts RPC calls by method and result
	RPCCallCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_rpc_calls_total",
			Help: "JSON-RPC calls by chain, method and result",
		},
		[]string{"chain", "method", "result"},
	)

	// DatabaseConnectionsGauge tracks database pool state
	DatabaseConnectionsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "settlement_db_connections",
			Help: "Database connection pool state",
		},
		[]string{"state"},
	)
)
