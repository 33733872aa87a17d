// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to start a crawl-and-submit run, GET /v1/runs and
//     /v1/runs/{run_id} to follow it.
//   - GET /v1/sites and /v1/urls to inspect the catalog.
package api
