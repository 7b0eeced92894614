package main

import (
	"encoding/json"
	"io"
	"net/http"

	"courier/internal/constants"
	"courier/internal/signature"
)

type statusCallbackRequest struct {
	ExternalID string `json:"externalId"`
	Status     string `json:"status"`
}

// handleStatusCallback ingests provider delivery receipts. The body
// is verified against the shared inbound secret before any lookup
// happens; with no secret configured (development) verification is
// skipped.
func (s *Server) handleStatusCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, constants.MaxContentLength))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
			return
		}

		if secret := s.cfg.Webhook.InboundSecret; secret != "" {
			sig := r.Header.Get("X-Webhook-Signature")
			if !signature.Verify(body, sig, secret) {
				s.logger.Warn("Rejected status callback with invalid signature")
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
				return
			}
		}

		var req statusCallbackRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
			return
		}
		if req.ExternalID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "externalId is required"})
			return
		}

		switch req.Status {
		case "delivered":
			err = s.queue.MarkDelivered(r.Context(), req.ExternalID)
		case "read":
			err = s.queue.MarkRead(r.Context(), req.ExternalID)
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Unknown status"})
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
