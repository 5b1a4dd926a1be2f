package logging

import (
	"sync"
	"sync/atomic"
)

// Metrics is a set of named counters and gauges shared by server components
// and reported on the diagnostics endpoint. The zero value is ready to use.
type Metrics struct {
	values sync.Map // string -> *atomic.Uint64
}

func (m *Metrics) counter(key string) *atomic.Uint64 {
	if existing, ok := m.values.Load(key); ok {
		return existing.(*atomic.Uint64)
	}
	created, _ := m.values.LoadOrStore(key, new(atomic.Uint64))
	return created.(*atomic.Uint64)
}

// TelemetryAdd increments key by delta.
func (m *Metrics) TelemetryAdd(key string, delta uint64) {
	if m == nil || key == "" {
		return
	}
	m.counter(key).Add(delta)
}

// TelemetryStore sets key to value.
func (m *Metrics) TelemetryStore(key string, value uint64) {
	if m == nil || key == "" {
		return
	}
	m.counter(key).Store(value)
}

// Snapshot copies every value.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.values.Range(func(key, value any) bool {
		out[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return out
}
