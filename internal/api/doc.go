// Package api hosts the HTTP trigger and read surface of the crawler.
// Notable routes:
//   - GET /healthz, /readyz for probes and GET /metrics for Prometheus.
//   - POST /v1/crawl/jobs to start a run, with status, list and cancel routes
//     under /v1/crawl.
//   - GET /v1/prices, /v1/prices/compare and /v1/plans/{plan_id}/history for
//     stored plans.
package api
