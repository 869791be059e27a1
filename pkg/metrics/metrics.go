// Package metrics exposes the data host's Prometheus instrumentation:
// transaction throughput, lock conflicts, chain seals, and replication
// quorum outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transaction metrics
	TxnCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datahost_txn_commits_total",
			Help: "Total number of transaction commits by outcome",
		},
		[]string{"outcome"},
	)

	TxnCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datahost_txn_commit_duration_seconds",
			Help:    "Time taken to commit a transaction across its participants",
			Buckets: prometheus.DefBuckets,
		},
	)

	// TxnLock metrics
	LockConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datahost_lock_conflicts_total",
			Help: "Total number of TxnLock read/write conflicts by operation",
		},
		[]string{"operation"},
	)

	// Chain metrics
	ChainBlocksSealedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datahost_chain_blocks_sealed_total",
			Help: "Total number of mutation-log blocks sealed",
		},
	)

	ChainAppendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datahost_chain_appends_total",
			Help: "Total number of mutations appended to a chain",
		},
	)

	// Replication metrics
	ReplicationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datahost_replication_outcomes_total",
			Help: "Total number of replication fan-outs by outcome",
		},
		[]string{"outcome"}, // "quorum", "conflict", "quorum_failed"
	)

	ReplicationFanoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datahost_replication_fanout_duration_seconds",
			Help:    "Time taken for a write to reach quorum across replicas",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplicaSetSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datahost_replica_set_size",
			Help: "Current number of replicas a cluster fans writes out to",
		},
	)

	// Gateway metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datahost_requests_total",
			Help: "Total number of gateway requests by method and status",
		},
		[]string{"method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datahost_request_duration_seconds",
			Help:    "Gateway request duration in seconds by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		TxnCommitsTotal,
		TxnCommitDuration,
		LockConflictsTotal,
		ChainBlocksSealedTotal,
		ChainAppendsTotal,
		ReplicationOutcomesTotal,
		ReplicationFanoutDuration,
		ReplicaSetSize,
		RequestsTotal,
		RequestDuration,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer captures an operation's start so its elapsed time can be recorded
// to a histogram when the operation ends. One timer can feed several
// observations; it never resets.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer running from now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time to one labeled series of a
// histogram vector.
func (t *Timer) ObserveDurationVec(vec prometheus.ObserverVec, labels ...string) {
	vec.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
