// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to enqueue a site crawl.
//   - GET /v1/jobs/{job_id}, /v1/jobs/{job_id}/progress and /v1/jobs/{job_id}/events.
//   - GET /v1/owners/{owner_id}/jobs and /v1/scheduler.
package api
