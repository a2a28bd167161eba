// Package http serves the local activation API the embedding UI talks to.
//
// Handlers stay thin: they decode and validate the request, call the
// activation services and render the outcome. Granted results render as
// JSON; denied results and failures render as RFC 7807 problem details.
//
// Routes:
//
//	POST /api/activation/activate   activate a code (throttled per client)
//	POST /api/activation/usage      record one use of the active code
//	POST /api/activation/check      launch check
//	GET  /api/activation/status     read-only status
//	POST /api/client-log            UI log forwarding
//	GET  /ws                        status stream
//	GET  /healthz, /readyz          probes
//	GET  /metrics                   Prometheus
package http
