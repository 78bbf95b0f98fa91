package http

import (
	"net/http"

	"asrsexport/internal/middleware"
)

// MetricsHandler serves the Prometheus exposition when metrics are enabled
type MetricsHandler struct {
	prom http.Handler
}

// NewMetricsHandler wraps prom, which may be nil
func NewMetricsHandler(prom http.Handler) *MetricsHandler {
	return &MetricsHandler{prom: prom}
}

// GetMetrics handles GET /metrics
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.prom == nil {
		middleware.WriteProblem(w, r, middleware.Problem{
			Type:   "/errors/metrics-disabled",
			Title:  "Metrics Disabled",
			Status: http.StatusNotFound,
			Detail: "set ASRS_TELEMETRY_ENABLE_METRICS=true to expose metrics",
		})
		return
	}
	h.prom.ServeHTTP(w, r)
}
