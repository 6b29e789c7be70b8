package authkit

import (
	"sync"
	"sync/atomic"
)

// MetricEvent names one countable authentication outcome.
type MetricEvent string

const (
	MetricLoginSuccess   MetricEvent = "auth.login.success"
	MetricLoginFailure   MetricEvent = "auth.login.failure"
	MetricRefreshSuccess MetricEvent = "auth.refresh.success"
	MetricRefreshFailure MetricEvent = "auth.refresh.failure"
	MetricLogoutSuccess  MetricEvent = "auth.logout.success"
)

var knownMetricEvents = []MetricEvent{
	MetricLoginSuccess,
	MetricLoginFailure,
	MetricRefreshSuccess,
	MetricRefreshFailure,
	MetricLogoutSuccess,
}

// MetricsRecorder counts auth outcomes.
type MetricsRecorder interface {
	Increment(event MetricEvent)
}

type noopMetrics struct{}

func (noopMetrics) Increment(MetricEvent) {}

// CounterMetrics keeps one in-process counter per event; known events are preallocated.
type CounterMetrics struct {
	mutex    sync.RWMutex
	counters map[MetricEvent]*atomic.Int64
}

// NewCounterMetrics constructs a recorder with zeroed counters for every known event.
func NewCounterMetrics() *CounterMetrics {
	recorder := &CounterMetrics{counters: make(map[MetricEvent]*atomic.Int64, len(knownMetricEvents))}
	for _, event := range knownMetricEvents {
		recorder.counters[event] = new(atomic.Int64)
	}
	return recorder
}

// Increment adds one to the event's counter, registering unknown events on first use.
func (recorder *CounterMetrics) Increment(event MetricEvent) {
	recorder.counter(event).Add(1)
}

// Count returns the current value for the event.
func (recorder *CounterMetrics) Count(event MetricEvent) int64 {
	recorder.mutex.RLock()
	counter, ok := recorder.counters[event]
	recorder.mutex.RUnlock()
	if !ok {
		return 0
	}
	return counter.Load()
}

// Snapshot returns every counter keyed by event name, suitable for a log field.
func (recorder *CounterMetrics) Snapshot() map[string]int64 {
	recorder.mutex.RLock()
	defer recorder.mutex.RUnlock()
	snapshot := make(map[string]int64, len(recorder.counters))
	for event, counter := range recorder.counters {
		snapshot[string(event)] = counter.Load()
	}
	return snapshot
}

func (recorder *CounterMetrics) counter(event MetricEvent) *atomic.Int64 {
	recorder.mutex.RLock()
	counter, ok := recorder.counters[event]
	recorder.mutex.RUnlock()
	if ok {
		return counter
	}
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	if counter, ok = recorder.counters[event]; !ok {
		counter = new(atomic.Int64)
		recorder.counters[event] = counter
	}
	return counter
}
