// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs plus cancel/pause/resume for crawl job control.
//   - GET /v1/jobs/{id}/urls and /events for crawl inspection.
//   - GET /v1/pages/personas and /v1/personas for mapping reads.
//   - POST /v1/personas/predict for visit-history persona prediction.
//   - GET /v1/costs for analysis budget snapshots.
package api
