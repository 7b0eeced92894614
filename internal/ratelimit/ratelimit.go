// Package ratelimit gates inbound API-key-authenticated calls with a
// fixed 60-second window counter per key. The window state lives in a
// pluggable Store so single-instance deployments can use the default
// in-memory map while multi-instance deployments can swap in a shared
// backend.
package ratelimit

import (
	"sync"
	"time"

	"courier/internal/constants"
)

// Window is the counter state for one key within the current window.
type Window struct {
	Count   int
	ResetAt time.Time
}

// Store holds per-key window state. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the window for key, or ok=false when absent.
	Get(key string) (Window, bool)
	// Set replaces the window for key.
	Set(key string, w Window)
	// Sweep removes windows that reset before now.
	Sweep(now time.Time)
}

// Result describes a rate-limit decision for the caller to surface.
type Result struct {
	Limit   int `json:"limit"`
	ResetIn int `json:"resetIn"`
}

// Limiter implements the fixed-window counter on top of a Store. A
// single mutex spans each read-modify-write so two concurrent calls
// for the same key can never both observe the same count.
type Limiter struct {
	mu     sync.Mutex
	store  Store
	window time.Duration
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithStore replaces the default in-memory store.
func WithStore(s Store) Option {
	return func(l *Limiter) { l.store = s }
}

// WithWindow overrides the window duration. Used by tests.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter with the standard 60-second window.
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		store:  NewMemoryStore(),
		window: constants.RateLimitWindowSec * time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one call for key and reports whether it is permitted
// under limit. On the first call for a key, or once the window has
// elapsed, the count resets to 1 and a fresh window begins. The
// returned Result always carries the limit and the seconds until the
// window resets, for 429 responses.
func (l *Limiter) Allow(key string, limit int) (bool, Result) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	res := Result{Limit: limit}

	w, ok := l.store.Get(key)
	if !ok || !w.ResetAt.After(now) {
		w = Window{Count: 1, ResetAt: now.Add(l.window)}
		l.store.Set(key, w)
		res.ResetIn = int(l.window / time.Second)
		return limit >= 1, res
	}

	res.ResetIn = int(w.ResetAt.Sub(now)/time.Second) + 1
	if w.Count >= limit {
		return false, res
	}

	w.Count++
	l.store.Set(key, w)
	return true, res
}

// MemoryStore is the in-process default Store. State is ephemeral and
// recreated on restart, which is acceptable for burst throttling.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]Window
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]Window)}
}

func (m *MemoryStore) Get(key string) (Window, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[key]
	return w, ok
}

func (m *MemoryStore) Set(key string, w Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[key] = w

	// Opportunistic cleanup once the map grows past the threshold,
	// so abandoned keys do not accumulate forever.
	if len(m.windows) > constants.RateLimitSweepThreshold {
		m.sweepLocked(time.Now())
	}
}

func (m *MemoryStore) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(now)
}

func (m *MemoryStore) sweepLocked(now time.Time) {
	for key, w := range m.windows {
		if !w.ResetAt.After(now) {
			delete(m.windows, key)
		}
	}
}
