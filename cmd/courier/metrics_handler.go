package main

import (
	"net/http"

	"courier/internal/metrics"
)

// handleMetrics exposes the in-memory registry snapshot as JSON.
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
