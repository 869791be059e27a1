// Package log wraps zerolog with the data host's request-scoped logging
// conventions.
//
// Call Init once at startup with the desired level and output format, then
// derive child loggers with WithTxn, WithPath, WithCollection, or
// WithCluster as a request flows through the gateway, a collection handler,
// and (for owner transactions) the replication fan-out. Component loggers
// (WithComponent) are for subsystem-level messages that aren't tied to a
// single request, such as chain-seal events or replica membership changes.
package log
