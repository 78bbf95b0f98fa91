// Package http serves the exporter's optional status endpoint.
//
// Routes:
//
//	GET /healthz  liveness
//	GET /status   JSON progress snapshot of the running export
//	GET /metrics  Prometheus exposition, when metrics are enabled
//
// Handlers are thin: they read from the export job's progress tracker and
// render JSON with go-chi/render.
package http
