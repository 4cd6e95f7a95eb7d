// Package api hosts the HTTP server and REST handlers. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/robots/check to evaluate a live site's robots.txt.
//   - POST /v1/robots/evaluate to evaluate inline robots.txt text.
//   - POST /v1/redirects/resolve to resolve a Location header.
package api
