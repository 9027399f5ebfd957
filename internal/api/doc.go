// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/links/resolve turns a seed URL into its in-scope links.
//   - /v1/orgs/{org_id}/mailboxes/... authorizes, lists, deactivates and removes
//     mailbox connections; GET /v1/mailboxes/{provider}/callback completes OAuth.
package api
