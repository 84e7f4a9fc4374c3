// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz for liveness.
//   - GET /readyz runs the registered dependency checks (Redis, Postgres, ...).
//   - GET /metrics for Prometheus scraping.
package api
