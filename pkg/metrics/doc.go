/*
Package metrics defines the data host's Prometheus instrumentation and its
/health, /ready, /live endpoints.

Metrics are registered at package init and updated inline by the packages
that own the events they describe, rather than polled from a central
collector: pkg/txnlock increments LockConflictsTotal on a rejected read or
write; pkg/chain increments ChainAppendsTotal and ChainBlocksSealedTotal as
it appends and seals blocks; pkg/cluster increments TxnCommitsTotal and
observes TxnCommitDuration around a commit round, increments
ReplicationOutcomesTotal and observes ReplicationFanoutDuration around
ReplicateWrite, and sets ReplicaSetSize whenever a replica is added or
removed; pkg/gateway increments RequestsTotal
and observes RequestDuration per handled call.

# Metrics Catalog

	datahost_txn_commits_total{outcome}          counter
	datahost_txn_commit_duration_seconds         histogram
	datahost_lock_conflicts_total{operation}     counter
	datahost_chain_blocks_sealed_total           counter
	datahost_chain_appends_total                 counter
	datahost_replication_outcomes_total{outcome} counter
	datahost_replication_fanout_duration_seconds  histogram
	datahost_replica_set_size                    gauge
	datahost_requests_total{method,status}       counter
	datahost_request_duration_seconds{method}    histogram

Handler exposes these at /metrics for scraping. Timer is a small helper for
recording an operation's elapsed time to a histogram at its end.

# Health

Components report their condition through RegisterComponent, independently
of the metrics above. /health fails when any registered component is
unhealthy; /ready treats "storage", "gateway", and "cluster" as critical,
and any one of them missing or unhealthy fails readiness.
*/
package metrics
