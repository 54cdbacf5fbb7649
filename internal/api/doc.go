// Package api hosts the optional operator HTTP server that runs alongside a
// batch. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for live run counts.
package api
