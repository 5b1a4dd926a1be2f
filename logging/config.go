package logging

import (
	"log"
	"time"
)

// Config tunes the event router. The console sink is always installed; the
// JSON sink only when JSONPath is set.
type Config struct {
	MinimumSeverity Severity
	// Fields are stamped into every event's Extra unless the event sets
	// the key itself.
	Fields map[string]any
	// BufferSize bounds the router queue. Publishing into a full queue drops
	// the event.
	BufferSize       int
	DropWarnInterval time.Duration
	// Fallback receives the router's own warnings. Defaults to stderr.
	Fallback *log.Logger

	ConsolePrefix string
	JSONPath      string
	// FlushInterval batches JSON writes; zero flushes after every event.
	FlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinimumSeverity:  SeverityInfo,
		BufferSize:       512,
		DropWarnInterval: 5 * time.Second,
		ConsolePrefix:    "[events]",
		FlushInterval:    2 * time.Second,
	}
}

func (c Config) cloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}
