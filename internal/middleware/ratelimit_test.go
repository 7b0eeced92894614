package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"courier/internal/models"
	"courier/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rateLimitedHandler(limiter *ratelimit.Limiter) http.Handler {
	return RateLimit(limiter, quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func requestWithKey(key *models.APIKey) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/queue/stats", nil)
	if key != nil {
		ctx := context.WithValue(req.Context(), apiKeyContextKey, key)
		req = req.WithContext(ctx)
	}
	return req
}

func TestRateLimitAllowsWithinBudget(t *testing.T) {
	handler := rateLimitedHandler(ratelimit.NewLimiter())
	key := &models.APIKey{ID: "k1", RateLimit: 3, Enabled: true}

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestWithKey(key))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	handler := rateLimitedHandler(ratelimit.NewLimiter())
	key := &models.APIKey{ID: "k1", RateLimit: 2, Enabled: true}

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestWithKey(key))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithKey(key))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body struct {
		Error   string `json:"error"`
		Limit   int    `json:"limit"`
		ResetIn int    `json:"resetIn"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Rate limit exceeded", body.Error)
	assert.Equal(t, 2, body.Limit)
	assert.Greater(t, body.ResetIn, 0)
}

func TestRateLimitKeysAreIndependent(t *testing.T) {
	handler := rateLimitedHandler(ratelimit.NewLimiter())

	first := &models.APIKey{ID: "k1", RateLimit: 1, Enabled: true}
	second := &models.APIKey{ID: "k2", RateLimit: 1, Enabled: true}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithKey(first))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithKey(first))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithKey(second))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitDefaultsWhenKeyHasNoLimit(t *testing.T) {
	handler := rateLimitedHandler(ratelimit.NewLimiter())
	key := &models.APIKey{ID: "k1", Enabled: true}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithKey(key))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitPassesThroughUnauthenticated(t *testing.T) {
	handler := rateLimitedHandler(ratelimit.NewLimiter())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithKey(nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}
