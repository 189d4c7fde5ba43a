// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - POST /api/parse submits a URL and schedules a crawl job.
//   - GET /api/jobs and /api/jobs/{job_id} list jobs newest first.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
