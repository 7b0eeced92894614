package main

import (
	"encoding/json"
	"net/http"

	"courier/internal/metrics"
	"courier/internal/middleware"
	"courier/internal/service"

	"github.com/gorilla/mux"
)

func (s *Server) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())

		var req service.EnqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
			return
		}

		entry, err := s.queue.Enqueue(r.Context(), ownerID, &req)
		if err != nil {
			writeError(w, err)
			return
		}

		metrics.Increment(metrics.MetricMessagesEnqueued, nil)
		writeJSON(w, http.StatusCreated, entry)
	}
}

func (s *Server) handleGetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())
		id := mux.Vars(r)["id"]

		entry, err := s.queue.Get(r.Context(), ownerID, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func (s *Server) handleListAttempts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())
		id := mux.Vars(r)["id"]

		attempts, err := s.queue.Attempts(r.Context(), ownerID, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"attempts": attempts})
	}
}

func (s *Server) handleCancelMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())
		id := mux.Vars(r)["id"]

		entry, err := s.queue.Cancel(r.Context(), ownerID, id)
		if err != nil {
			writeError(w, err)
			return
		}

		metrics.Increment(metrics.MetricMessagesCancelled, nil)
		writeJSON(w, http.StatusOK, entry)
	}
}

func (s *Server) handleQueueStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())

		stats, err := s.queue.Stats(r.Context(), ownerID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// handleRunQueue triggers one dispatch tick. Useful for deployments
// that disable the background driver and drive the queue externally.
func (s *Server) handleRunQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := s.queue.RunOnce(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}
