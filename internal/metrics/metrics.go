// Package metrics is an in-memory metrics registry exposed over the
// /metrics endpoint. Counters, gauges and timers only; no external
// collector is assumed.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Metric names recorded across the service.
const (
	MetricMessagesEnqueued  = "queue.enqueued"
	MetricMessagesSent      = "queue.sent"
	MetricMessagesFailed    = "queue.failed"
	MetricMessagesCancelled = "queue.cancelled"
	MetricQueueTickDuration = "queue.tick_duration"
	MetricWebhookDeliveries = "webhook.deliveries"
	MetricHTTPRequests      = "http.requests"
	MetricHTTPDuration      = "http.request_duration"
	MetricRateLimitHits     = "ratelimit.denied"
)

const timerSampleCap = 1000

// Counter is a monotonically increasing value.
type Counter struct {
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Labels     map[string]string `json:"labels,omitempty"`
	LastUpdate time.Time         `json:"last_update"`
}

// Gauge is a point-in-time value.
type Gauge struct {
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Labels     map[string]string `json:"labels,omitempty"`
	LastUpdate time.Time         `json:"last_update"`
}

// Timer aggregates duration samples.
type Timer struct {
	Count   int64   `json:"count"`
	Sum     float64 `json:"sum_ms"`
	Min     float64 `json:"min_ms"`
	Max     float64 `json:"max_ms"`
	Average float64 `json:"avg_ms"`
	P95     float64 `json:"p95_ms,omitempty"`
	P99     float64 `json:"p99_ms,omitempty"`

	samples []float64
}

// Registry holds all metrics for the process.
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Counter
	gauges    map[string]*Gauge
	timers    map[string]*Timer
	startTime time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Counter),
		gauges:    make(map[string]*Gauge),
		timers:    make(map[string]*Timer),
		startTime: time.Now(),
	}
}

var global = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return global
}

func (r *Registry) Increment(name string, labels map[string]string) {
	r.Add(name, 1, labels)
}

func (r *Registry) Add(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	if c, ok := r.counters[key]; ok {
		c.Value += value
		c.LastUpdate = time.Now()
		return
	}
	r.counters[key] = &Counter{
		Name:       name,
		Value:      value,
		Labels:     cloneLabels(labels),
		LastUpdate: time.Now(),
	}
}

func (r *Registry) SetGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	r.gauges[key] = &Gauge{
		Name:       name,
		Value:      value,
		Labels:     cloneLabels(labels),
		LastUpdate: time.Now(),
	}
}

func (r *Registry) RecordTimer(name string, d time.Duration, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	ms := float64(d.Nanoseconds()) / 1e6

	t, ok := r.timers[key]
	if !ok {
		r.timers[key] = &Timer{
			Count: 1, Sum: ms, Min: ms, Max: ms, Average: ms,
			samples: []float64{ms},
		}
		return
	}

	t.Count++
	t.Sum += ms
	if ms < t.Min {
		t.Min = ms
	}
	if ms > t.Max {
		t.Max = ms
	}
	t.Average = t.Sum / float64(t.Count)

	t.samples = append(t.samples, ms)
	if len(t.samples) > timerSampleCap {
		t.samples = t.samples[len(t.samples)-timerSampleCap:]
	}
	if len(t.samples) >= 10 {
		t.P95 = percentile(t.samples, 0.95)
		t.P99 = percentile(t.samples, 0.99)
	}
}

// Snapshot returns a copy of every metric plus process uptime.
func (r *Registry) Snapshot() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counters := make(map[string]*Counter, len(r.counters))
	for k, v := range r.counters {
		c := *v
		counters[k] = &c
	}
	gauges := make(map[string]*Gauge, len(r.gauges))
	for k, v := range r.gauges {
		g := *v
		gauges[k] = &g
	}
	timers := make(map[string]*Timer, len(r.timers))
	for k, v := range r.timers {
		t := *v
		t.samples = nil
		timers[k] = &t
	}

	return map[string]interface{}{
		"counters":  counters,
		"gauges":    gauges,
		"timers":    timers,
		"uptime_ms": time.Since(r.startTime).Milliseconds(),
		"timestamp": time.Now().Unix(),
	}
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('_')
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(labels[k])
	}
	return b.String()
}

func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func cloneLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// Package-level helpers against the default registry.

func Increment(name string, labels map[string]string) {
	global.Increment(name, labels)
}

func RecordTimer(name string, d time.Duration, labels map[string]string) {
	global.RecordTimer(name, d, labels)
}

func SetGauge(name string, value float64, labels map[string]string) {
	global.SetGauge(name, value, labels)
}

func Snapshot() map[string]interface{} {
	return global.Snapshot()
}
