package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"courier/internal/middleware"

	"github.com/gorilla/mux"
)

type registerWebhookRequest struct {
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type updateWebhookRequest struct {
	Name    *string  `json:"name,omitempty"`
	URL     *string  `json:"url,omitempty"`
	Events  []string `json:"events,omitempty"`
	Enabled *bool    `json:"enabled,omitempty"`
}

func (s *Server) handleRegisterWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())

		var req registerWebhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
			return
		}

		ep, err := s.notifier.Register(r.Context(), ownerID, req.Name, req.URL, req.Events)
		if err != nil {
			writeError(w, err)
			return
		}

		// The secret is surfaced exactly once, at registration.
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"webhook": ep,
			"secret":  ep.Secret,
		})
	}
}

func (s *Server) handleListWebhooks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())

		endpoints, err := s.notifier.List(r.Context(), ownerID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": endpoints})
	}
}

func (s *Server) handleGetWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())
		id := mux.Vars(r)["id"]

		ep, err := s.notifier.Get(r.Context(), ownerID, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ep)
	}
}

func (s *Server) handleUpdateWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())
		id := mux.Vars(r)["id"]

		var req updateWebhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
			return
		}

		ep, err := s.notifier.Update(r.Context(), ownerID, id, req.Name, req.URL, req.Events, req.Enabled)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ep)
	}
}

func (s *Server) handleDeleteWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())
		id := mux.Vars(r)["id"]

		if err := s.notifier.Unregister(r.Context(), ownerID, id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleRotateWebhookSecret() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())
		id := mux.Vars(r)["id"]

		ep, err := s.notifier.RotateSecret(r.Context(), ownerID, id)
		if err != nil {
			writeError(w, err)
			return
		}

		// Same contract as registration: the plaintext secret appears
		// in this response only.
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"webhook": ep,
			"secret":  ep.Secret,
		})
	}
}

func (s *Server) handleTestWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())
		id := mux.Vars(r)["id"]

		log, err := s.notifier.Test(r.Context(), ownerID, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, log)
	}
}

func (s *Server) handleWebhookLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())
		id := mux.Vars(r)["id"]

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, _ = strconv.Atoi(v)
		}

		logs, err := s.notifier.Logs(r.Context(), ownerID, id, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
	}
}
