// Package sinks implements concrete progress consumers: structured logs,
// Prometheus collectors, and the Postgres attempt ledger.
package sinks
