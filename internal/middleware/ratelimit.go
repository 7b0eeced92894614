package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"courier/internal/constants"
	"courier/internal/metrics"
	"courier/internal/ratelimit"

	"github.com/sirupsen/logrus"
)

// RateLimit enforces each API key's per-window request budget. Runs
// after APIKeyAuth so the key and its limit are on the context.
func RateLimit(limiter *ratelimit.Limiter, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := APIKeyFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			limit := key.RateLimit
			if limit <= 0 {
				limit = constants.DefaultAPIKeyRateLimit
			}

			allowed, result := limiter.Allow(key.ID, limit)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			if !allowed {
				metrics.Increment(metrics.MetricRateLimitHits, nil)
				logger.WithFields(logrus.Fields{
					"apiKeyId": key.ID,
					"limit":    result.Limit,
				}).Warn("Rate limit exceeded")

				w.Header().Set("Retry-After", strconv.Itoa(result.ResetIn))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error":   "Rate limit exceeded",
					"limit":   result.Limit,
					"resetIn": result.ResetIn,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
