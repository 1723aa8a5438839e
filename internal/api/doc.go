// Package api hosts the HTTP server, middleware, and REST handlers for operator
// and retrieval access. Notable routes:
//   - GET /healthz and /readyz for Cloud Run probes; readyz pings storage.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/tenders, /v1/tenders/{number}/{year} for stored tender records.
//   - GET /v1/documents?tender_id=, /v1/documents/{id}, /v1/documents/{id}/chunks.
//   - POST /v1/search for similarity search over embedded chunks.
//   - POST /v1/runs to trigger a discover, full, or incremental run and
//     GET /v1/runs/{id} to read its bookkeeping row.
package api
