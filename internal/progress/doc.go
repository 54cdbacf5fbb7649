// Package progress carries capture milestones from workers to pluggable sinks
// (logs, Prometheus, Postgres) without ever blocking the worker that emits them.
package progress
