package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAccumulates(t *testing.T) {
	r := NewRegistry()
	r.Increment(MetricMessagesSent, nil)
	r.Increment(MetricMessagesSent, nil)
	r.Add(MetricMessagesSent, 3, nil)

	snap := r.Snapshot()
	counters := snap["counters"].(map[string]*Counter)
	require.Contains(t, counters, MetricMessagesSent)
	assert.Equal(t, float64(5), counters[MetricMessagesSent].Value)
}

func TestCountersSplitByLabels(t *testing.T) {
	r := NewRegistry()
	r.Increment(MetricHTTPRequests, map[string]string{"method": "GET", "status_code": "200"})
	r.Increment(MetricHTTPRequests, map[string]string{"method": "GET", "status_code": "200"})
	r.Increment(MetricHTTPRequests, map[string]string{"method": "POST", "status_code": "201"})

	snap := r.Snapshot()
	counters := snap["counters"].(map[string]*Counter)
	require.Len(t, counters, 2)
	assert.Equal(t, float64(2), counters[metricKey(MetricHTTPRequests, map[string]string{"method": "GET", "status_code": "200"})].Value)
}

func TestMetricKeyIsLabelOrderIndependent(t *testing.T) {
	a := metricKey("m", map[string]string{"a": "1", "b": "2"})
	b := metricKey("m", map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, a, b)
	assert.Equal(t, "m", metricKey("m", nil))
}

func TestGaugeReplacesValue(t *testing.T) {
	r := NewRegistry()
	r.SetGauge("queue.depth", 10, nil)
	r.SetGauge("queue.depth", 4, nil)

	snap := r.Snapshot()
	gauges := snap["gauges"].(map[string]*Gauge)
	assert.Equal(t, float64(4), gauges["queue.depth"].Value)
}

func TestTimerAggregates(t *testing.T) {
	r := NewRegistry()
	r.RecordTimer(MetricQueueTickDuration, 10*time.Millisecond, nil)
	r.RecordTimer(MetricQueueTickDuration, 30*time.Millisecond, nil)
	r.RecordTimer(MetricQueueTickDuration, 20*time.Millisecond, nil)

	snap := r.Snapshot()
	timers := snap["timers"].(map[string]*Timer)
	timer := timers[MetricQueueTickDuration]
	require.NotNil(t, timer)
	assert.Equal(t, int64(3), timer.Count)
	assert.Equal(t, float64(10), timer.Min)
	assert.Equal(t, float64(30), timer.Max)
	assert.InDelta(t, 20, timer.Average, 0.001)
}

func TestTimerPercentiles(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 100; i++ {
		r.RecordTimer("op", time.Duration(i)*time.Millisecond, nil)
	}

	snap := r.Snapshot()
	timer := snap["timers"].(map[string]*Timer)["op"]
	assert.InDelta(t, 96, timer.P95, 1)
	assert.InDelta(t, 100, timer.P99, 1)
}

func TestSnapshotIsDetached(t *testing.T) {
	r := NewRegistry()
	r.Increment("c", nil)

	snap := r.Snapshot()
	counters := snap["counters"].(map[string]*Counter)
	counters["c"].Value = 99

	again := r.Snapshot()
	assert.Equal(t, float64(1), again["counters"].(map[string]*Counter)["c"].Value)
	assert.Contains(t, snap, "uptime_ms")
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Increment("c", nil)
				r.RecordTimer("t", time.Millisecond, nil)
				r.Snapshot()
			}
		}()
	}
	wg.Wait()

	snap := r.Snapshot()
	assert.Equal(t, float64(1000), snap["counters"].(map[string]*Counter)["c"].Value)
}
