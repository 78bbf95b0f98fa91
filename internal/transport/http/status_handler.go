package http

import (
	"net/http"

	"github.com/go-chi/render"

	"asrsexport/internal/export"
)

// ProgressSource exposes the state of a running export
type ProgressSource interface {
	Snapshot() export.Snapshot
}

// StatusHandler reports export progress
type StatusHandler struct {
	source ProgressSource
}

// NewStatusHandler creates a status handler reading from source
func NewStatusHandler(source ProgressSource) *StatusHandler {
	return &StatusHandler{source: source}
}

// GetStatus handles GET /status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.source.Snapshot())
}
