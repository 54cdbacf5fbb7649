// Package main hosts the shotbatch entrypoint.
//
// Architecture overview:
//   - Input: internal/source reads the URL list (blank and # lines skipped,
//     https:// added when the scheme is missing).
//   - Capture: internal/runner drives passes. Each pass, internal/dispatcher
//     fills a fresh bounded queue and spawns min(workers, jobs) workers from
//     internal/worker, each owning one chromedp session from
//     internal/backend/headless. internal/collector routes every outcome to
//     success, retry, or permanent failure through a per-job attempt ledger.
//   - Retry: failed jobs with budget left wait out a global cooldown and run in
//     a new pass. retry.single_pass limits this to one terminal retry pass.
//   - Output: internal/report renders a self-contained HTML document stored
//     through internal/storage (local path, gs://bucket/object, or memory://).
//   - Side channels: progress events flow through the internal/progress hub to
//     log, Prometheus, and (when db.dsn is set) Postgres sinks. A run summary is
//     published to Pub/Sub when pubsub.topic is set.
//
// Operational notes:
//   - SIGINT/SIGTERM cancel the run. In-flight captures abort, queued jobs are
//     failed, and the partial report is still written.
//   - The process exits non-zero only when configuration or the report fails.
//   - server.addr starts an ops server with /healthz, /readyz, /metrics, and
//     /v1/status for the duration of the run.
//
// Quick checklist:
//   - Configure with a file (-config) or env vars such as SHOTBATCH_CAPTURE_WORKERS,
//     SHOTBATCH_RETRY_ATTEMPTS, SHOTBATCH_OUTPUT_PATH. A .env file is read first.
//   - Run locally: go run ./cmd/shotbatch -input urls.txt -output result.html
package main
