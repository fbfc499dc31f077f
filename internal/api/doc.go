// Package api hosts the HTTP server, middleware, and REST handlers.
// Notable routes:
//   - POST /v1/fetch serves one FetchRequest synchronously.
//   - POST /v1/invoke accepts a function event and replies {statusCode, body}.
//   - GET /v1/usage reports provider usage counters.
//   - POST /v1/jobs (and /v1/jobs/standard) queue batches; status, result and
//     cancel live under /v1/jobs/{job_id}.
//   - GET /healthz, /readyz for probes and /metrics for Prometheus scraping.
package api
