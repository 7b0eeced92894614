package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"courier/internal/database"
	apperrors "courier/internal/errors"
	"courier/internal/middleware"
	"courier/internal/models"
	"courier/internal/ratelimit"
	"courier/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	cfg      *models.Config
	queue    *service.DeliveryQueue
	notifier *service.WebhookNotifier
	hub      *service.RealtimeHub
	db       *database.Database
	limiter  *ratelimit.Limiter
	server   *http.Server
}

func NewServer(cfg *models.Config, queue *service.DeliveryQueue, notifier *service.WebhookNotifier, hub *service.RealtimeHub, db *database.Database, limiter *ratelimit.Limiter, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		queue:    queue,
		notifier: notifier,
		hub:      hub,
		db:       db,
		limiter:  limiter,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	// Inbound provider status callbacks, HMAC-verified rather than
	// API-key authenticated.
	s.router.HandleFunc("/webhook/status", s.handleStatusCallback()).Methods(http.MethodPost)

	// Authenticated API surface.
	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(middleware.APIKeyAuth(s.db, s.logger))
	v1.Use(middleware.RateLimit(s.limiter, s.logger))

	v1.Handle("/messages/send", s.requirePerm("messages:send", s.handleSendMessage())).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{id}", s.handleGetMessage()).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}/attempts", s.handleListAttempts()).Methods(http.MethodGet)
	v1.Handle("/messages/{id}/cancel", s.requirePerm("messages:send", s.handleCancelMessage())).Methods(http.MethodPost)

	v1.HandleFunc("/queue/stats", s.handleQueueStats()).Methods(http.MethodGet)
	v1.Handle("/queue/run", s.requirePerm("queue:run", s.handleRunQueue())).Methods(http.MethodPost)

	v1.HandleFunc("/webhooks", s.handleListWebhooks()).Methods(http.MethodGet)
	v1.Handle("/webhooks", s.requirePerm("webhooks:manage", s.handleRegisterWebhook())).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks/{id}", s.handleGetWebhook()).Methods(http.MethodGet)
	v1.Handle("/webhooks/{id}", s.requirePerm("webhooks:manage", s.handleUpdateWebhook())).Methods(http.MethodPatch)
	v1.Handle("/webhooks/{id}", s.requirePerm("webhooks:manage", s.handleDeleteWebhook())).Methods(http.MethodDelete)
	v1.Handle("/webhooks/{id}/rotate", s.requirePerm("webhooks:manage", s.handleRotateWebhookSecret())).Methods(http.MethodPost)
	v1.Handle("/webhooks/{id}/test", s.requirePerm("webhooks:manage", s.handleTestWebhook())).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks/{id}/logs", s.handleWebhookLogs()).Methods(http.MethodGet)

	if s.hub != nil {
		v1.HandleFunc("/events/stream", s.handleEventStream()).Methods(http.MethodGet)
	}
}

func (s *Server) requirePerm(perm string, h http.Handler) http.Handler {
	return middleware.RequirePermission(perm)(h)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"version": Version,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (s *Server) handleEventStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.OwnerIDFromContext(r.Context())
		s.hub.Handle(w, r, ownerID)
	}
}

// Response helpers

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	writeJSON(w, status, map[string]string{"error": apperrors.GetUserMessage(err)})
}
