// Package retry provides exponential backoff for startup-time
// operations such as opening the database.
package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// BackoffConfig controls the retry schedule.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
	Jitter       bool
}

// DefaultBackoffConfig returns the schedule used when the config file
// does not override it.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// Backoff retries an operation on an exponential schedule.
type Backoff struct {
	config BackoffConfig
}

func NewBackoff(config BackoffConfig) *Backoff {
	if config.Multiplier < 1 {
		config.Multiplier = 2.0
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Backoff{config: config}
}

// Retry runs operation until it succeeds, attempts are exhausted, or
// the context is cancelled. The last operation error is returned on
// exhaustion.
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = operation(); lastErr == nil {
			return nil
		}
		if attempt == b.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.delay(attempt)):
		}
	}
	return lastErr
}

// delay computes the wait before the next attempt, capped at MaxDelay
// and jittered to half-to-full of the computed value when enabled.
func (b *Backoff) delay(attempt int) time.Duration {
	d := float64(b.config.InitialDelay) * math.Pow(b.config.Multiplier, float64(attempt-1))
	if limit := float64(b.config.MaxDelay); b.config.MaxDelay > 0 && d > limit {
		d = limit
	}

	delay := time.Duration(d)
	if !b.config.Jitter || delay <= 0 {
		return delay
	}

	half := delay / 2
	n, err := rand.Int(rand.Reader, big.NewInt(int64(half)+1))
	if err != nil {
		return delay
	}
	return half + time.Duration(n.Int64())
}
