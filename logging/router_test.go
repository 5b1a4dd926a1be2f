package logging_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"dragons-keep/server/logging"
	"dragons-keep/server/logging/sinks"
)

func newMemoryRouter(t *testing.T, cfg logging.Config) (*logging.Router, *sinks.MemorySink) {
	t.Helper()
	mem := sinks.NewMemorySink()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	router, err := logging.NewRouter(logging.ClockFunc(func() time.Time { return fixed }), cfg, []logging.NamedSink{{Name: "memory", Sink: mem}})
	if err != nil {
		t.Fatalf("failed to construct router: %v", err)
	}
	return router, mem
}

func closeRouter(t *testing.T, router *logging.Router) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("failed to close router: %v", err)
	}
}

func TestRouterFiltersBySeverityAndAddsFields(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.Fields = map[string]any{"service": "relay"}
	router, mem := newMemoryRouter(t, cfg)

	router.Publish(context.Background(), logging.Event{Type: "test.debug", Severity: logging.SeverityDebug})
	router.Publish(context.Background(), logging.Event{Type: "test.info", Severity: logging.SeverityInfo, Room: "DRGN-AAAA", Round: 3})
	router.Publish(context.Background(), logging.Event{Severity: logging.SeverityError})
	closeRouter(t, router)

	events := mem.Events()
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	event := events[0]
	if event.Type != "test.info" || event.Room != "DRGN-AAAA" || event.Round != 3 {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Extra["service"] != "relay" {
		t.Fatalf("expected static field, got %+v", event.Extra)
	}
	if event.Time.IsZero() {
		t.Fatalf("expected router clock to stamp the event")
	}
	if stats := router.Stats(); stats.EventsTotal != 1 {
		t.Fatalf("expected one forwarded event, got %+v", stats)
	}
}

func TestRouterCopiesTraceIDFromSpanContext(t *testing.T) {
	router, mem := newMemoryRouter(t, logging.DefaultConfig())

	traceID := trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	spanID := trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8}
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
	router.Publish(ctx, logging.Event{Type: "test.traced", Severity: logging.SeverityInfo})
	closeRouter(t, router)

	events := mem.EventsOfType("test.traced")
	if len(events) != 1 {
		t.Fatalf("expected traced event, got %d", len(events))
	}
	if events[0].TraceID != traceID.String() {
		t.Fatalf("expected trace id %s, got %q", traceID, events[0].TraceID)
	}
}

func TestRouterIgnoresPublishAfterClose(t *testing.T) {
	router, mem := newMemoryRouter(t, logging.DefaultConfig())
	closeRouter(t, router)

	router.Publish(context.Background(), logging.Event{Type: "test.late", Severity: logging.SeverityError})
	if got := len(mem.Events()); got != 0 {
		t.Fatalf("expected no events after close, got %d", got)
	}
}

func TestNewRouterRequiresSink(t *testing.T) {
	_, err := logging.NewRouter(nil, logging.DefaultConfig(), []logging.NamedSink{{Name: "nil"}})
	if !errors.Is(err, logging.ErrNoSinks) {
		t.Fatalf("expected ErrNoSinks, got %v", err)
	}
}

type failingSink struct{}

func (failingSink) Write(logging.Event) error { return errors.New("disk full") }
func (failingSink) Close(context.Context) error { return nil }

func TestRouterCountsSinkFailuresPerSink(t *testing.T) {
	mem := sinks.NewMemorySink()
	router, err := logging.NewRouter(nil, logging.DefaultConfig(), []logging.NamedSink{
		{Name: "memory", Sink: mem},
		{Name: "broken", Sink: failingSink{}},
	})
	if err != nil {
		t.Fatalf("failed to construct router: %v", err)
	}
	router.Publish(context.Background(), logging.Event{Type: "rounds.started", Severity: logging.SeverityInfo, Room: "DRGN-AAAA", Round: 2})
	closeRouter(t, router)
	closeRouter(t, router)

	stats := router.Stats()
	if stats.EventsTotal != 1 || len(stats.Sinks) != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := stats.Sinks[0]; got.Name != "memory" || got.Written != 1 || got.Failed != 0 {
		t.Fatalf("unexpected memory sink stats: %+v", got)
	}
	if got := stats.Sinks[1]; got.Name != "broken" || got.Written != 0 || got.Failed != 1 {
		t.Fatalf("unexpected broken sink stats: %+v", got)
	}
	if len(mem.Events()) != 1 {
		t.Fatalf("expected healthy sink to receive the event")
	}
}

func TestWithFieldsDoesNotOverrideEventExtra(t *testing.T) {
	var captured logging.Event
	base := logging.PublisherFunc(func(_ context.Context, event logging.Event) { captured = event })
	pub := logging.WithFields(base, map[string]any{"room": "static", "conn": "c1"})

	pub.Publish(context.Background(), logging.Event{Type: "test", Extra: map[string]any{"room": "event"}})
	if captured.Extra["room"] != "event" || captured.Extra["conn"] != "c1" {
		t.Fatalf("unexpected extra: %+v", captured.Extra)
	}
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]logging.Severity{
		"":        logging.SeverityInfo,
		"debug":   logging.SeverityDebug,
		" WARN ":  logging.SeverityWarn,
		"warning": logging.SeverityWarn,
		"error":   logging.SeverityError,
	}
	for raw, want := range cases {
		got, err := logging.ParseSeverity(raw)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseSeverity(%q) = %v, want %v", raw, got, want)
		}
	}
	if _, err := logging.ParseSeverity("loud"); err == nil {
		t.Fatalf("expected error for unknown severity")
	}
}

func TestMetricsSnapshot(t *testing.T) {
	var metrics logging.Metrics
	metrics.TelemetryAdd("broadcasts", 2)
	metrics.TelemetryAdd("broadcasts", 3)
	metrics.TelemetryStore("rooms", 7)

	snapshot := metrics.Snapshot()
	if snapshot["broadcasts"] != 5 || snapshot["rooms"] != 7 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}
