package telemetry

import (
	"log"

	"dragons-keep/server/logging"
)

// Metric keys recorded by the hub and relay.
const (
	MetricRoomsCreated      = "rooms_created"
	MetricRoomsEvicted      = "rooms_evicted"
	MetricRoomsActive       = "rooms_active"
	MetricSubscribersActive = "subscribers_active"
	MetricBroadcasts        = "broadcasts"
	MetricFramesQueued      = "frames_queued"
	MetricFramesDropped     = "frames_dropped"
	MetricFramesStale       = "frames_stale"
	MetricMessagesReceived  = "messages_received"
	MetricMessagesMalformed = "messages_malformed"
	MetricPlayersHealed     = "players_healed"
	MetricUnauthorized      = "messages_unauthorized"
)

// Logger exposes the logging capabilities required by server components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger to the Logger interface.
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// StandardLogger exposes the wrapped logger for components that need one.
func (l *loggerAdapter) StandardLogger() *log.Logger {
	if l == nil {
		return nil
	}
	return l.logger
}

// NopLogger discards everything.
func NopLogger() Logger {
	return LoggerFunc(func(string, ...any) {})
}

// Metrics exposes the telemetry methods required by server components.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// WrapMetrics adapts the shared counter set into the Metrics interface.
func WrapMetrics(metrics *logging.Metrics) Metrics {
	return &metricsAdapter{metrics: metrics}
}

type metricsAdapter struct {
	metrics *logging.Metrics
}

func (m *metricsAdapter) Add(key string, delta uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryAdd(key, delta)
}

func (m *metricsAdapter) Store(key string, value uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryStore(key, value)
}

type nopMetrics struct{}

func (nopMetrics) Add(string, uint64)   {}
func (nopMetrics) Store(string, uint64) {}

// NopMetrics discards every update.
func NopMetrics() Metrics {
	return nopMetrics{}
}
