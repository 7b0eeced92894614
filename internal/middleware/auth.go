package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"courier/internal/models"
	"courier/internal/privacy"

	"github.com/sirupsen/logrus"
)

// KeyStore resolves API keys for authentication.
type KeyStore interface {
	GetAPIKeyByKey(ctx context.Context, key string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, id string, now time.Time) error
}

type authContextKey string

const apiKeyContextKey authContextKey = "api_key"

// APIKeyFromContext returns the authenticated key, if any.
func APIKeyFromContext(ctx context.Context) (*models.APIKey, bool) {
	k, ok := ctx.Value(apiKeyContextKey).(*models.APIKey)
	return k, ok
}

// OwnerIDFromContext returns the authenticated owner, zero when the
// request is unauthenticated.
func OwnerIDFromContext(ctx context.Context) int64 {
	if k, ok := APIKeyFromContext(ctx); ok {
		return k.OwnerID
	}
	return 0
}

// APIKeyAuth authenticates requests via X-API-Key or a bearer token.
// Disabled and expired keys are rejected the same way unknown keys
// are, without hinting which case applies.
func APIKeyAuth(store KeyStore, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractKey(r)
			if raw == "" {
				unauthorized(w, "API key required")
				return
			}

			key, err := store.GetAPIKeyByKey(r.Context(), raw)
			if err != nil {
				logger.WithError(err).Error("API key lookup failed")
				http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
				return
			}
			if key == nil || !key.Enabled {
				logger.WithField("apiKey", privacy.MaskAPIKey(raw)).Warn("Rejected API key")
				unauthorized(w, "Invalid API key")
				return
			}
			if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
				logger.WithField("apiKey", privacy.MaskAPIKey(raw)).Warn("Expired API key")
				unauthorized(w, "Invalid API key")
				return
			}

			if err := store.TouchAPIKey(r.Context(), key.ID, time.Now()); err != nil {
				logger.WithError(err).Debug("Failed to record API key usage")
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission gates a handler on the authenticated key's
// permission list.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := APIKeyFromContext(r.Context())
			if !ok {
				unauthorized(w, "API key required")
				return
			}
			if !key.HasPermission(perm) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]string{"error": "Insufficient permissions"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
