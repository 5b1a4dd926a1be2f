package logging

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ErrNoSinks is returned by NewRouter when no sink would receive events.
var ErrNoSinks = errors.New("logging: router needs at least one sink")

const (
	minRetryDelay = 100 * time.Millisecond
	maxRetryDelay = 5 * time.Second
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Router fans published events out to its sinks. Publish never blocks: the
// router queue and every sink queue drop on overflow and count the loss.
type Router struct {
	queue       chan Event
	workers     []*sinkWorker
	clock       Clock
	fallback    *log.Logger
	minSeverity Severity
	fields      map[string]any
	dropWarn    time.Duration

	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup

	eventsTotal  atomic.Uint64
	droppedTotal atomic.Uint64
	nextDropWarn atomic.Int64
}

// SinkStats counts one sink's deliveries.
type SinkStats struct {
	Name    string `json:"name"`
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

type RouterStats struct {
	EventsTotal  uint64      `json:"eventsTotal"`
	DroppedTotal uint64      `json:"droppedTotal"`
	Sinks        []SinkStats `json:"sinks,omitempty"`
}

func NewRouter(clock Clock, cfg Config, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = ClockFunc(time.Now)
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 512
	}
	dropWarn := cfg.DropWarnInterval
	if dropWarn <= 0 {
		dropWarn = 5 * time.Second
	}
	fallback := cfg.Fallback
	if fallback == nil {
		fallback = log.New(os.Stderr, "[logging] ", log.LstdFlags)
	}
	sinkBuffer := min(max(bufferSize, 32), 1024)

	r := &Router{
		queue:       make(chan Event, bufferSize),
		clock:       clock,
		fallback:    fallback,
		minSeverity: cfg.MinimumSeverity,
		fields:      cfg.cloneFields(),
		dropWarn:    dropWarn,
		done:        make(chan struct{}),
	}
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		r.workers = append(r.workers, &sinkWorker{
			name:     named.Name,
			sink:     named.Sink,
			events:   make(chan Event, sinkBuffer),
			fallback: fallback,
		})
	}
	if len(r.workers) == 0 {
		return nil, ErrNoSinks
	}

	r.wg.Add(1 + len(r.workers))
	go r.dispatch()
	for _, worker := range r.workers {
		go func(w *sinkWorker) {
			defer r.wg.Done()
			w.run()
		}(worker)
	}
	return r, nil
}

func (r *Router) dispatch() {
	defer func() {
		for _, worker := range r.workers {
			close(worker.events)
		}
		r.wg.Done()
	}()
	for {
		select {
		case <-r.done:
			for {
				select {
				case event := <-r.queue:
					r.forward(event)
				default:
					return
				}
			}
		case event := <-r.queue:
			r.forward(event)
		}
	}
}

func (r *Router) forward(event Event) {
	if event.Severity < r.minSeverity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	if len(r.fields) > 0 {
		event = cloneForFields(event)
		if event.Extra == nil {
			event.Extra = make(map[string]any, len(r.fields))
		}
		for k, v := range r.fields {
			if _, exists := event.Extra[k]; !exists {
				event.Extra[k] = v
			}
		}
	}
	r.eventsTotal.Add(1)
	for _, worker := range r.workers {
		worker.enqueue(event)
	}
}

var _ Publisher = (*Router)(nil)

// Publish enqueues an event without blocking. Events published inside a
// traced context inherit the span's trace id.
func (r *Router) Publish(ctx context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	if event.TraceID == "" && ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			event.TraceID = sc.TraceID().String()
		}
	}
	select {
	case r.queue <- event:
	default:
		r.warnDrop(event)
	}
}

// warnDrop counts a dropped event and reports at most one per DropWarnInterval.
func (r *Router) warnDrop(event Event) {
	r.droppedTotal.Add(1)
	now := r.clock.Now().UnixNano()
	next := r.nextDropWarn.Load()
	if now < next {
		return
	}
	if r.nextDropWarn.CompareAndSwap(next, now+r.dropWarn.Nanoseconds()) {
		r.fallback.Printf("router backlog full, dropping %s for room %s round %d", event.Type, event.Room, event.Round)
	}
}

// Close drains queued events into the sinks and closes them. Later calls
// return nil.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.done)
	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}
	var errs []error
	for _, worker := range r.workers {
		if err := worker.sink.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		EventsTotal:  r.eventsTotal.Load(),
		DroppedTotal: r.droppedTotal.Load(),
		Sinks:        make([]SinkStats, 0, len(r.workers)),
	}
	for _, worker := range r.workers {
		stats.Sinks = append(stats.Sinks, SinkStats{
			Name:    worker.name,
			Written: worker.written.Load(),
			Failed:  worker.failed.Load(),
			Dropped: worker.dropped.Load(),
		})
	}
	return stats
}

type sinkWorker struct {
	name     string
	sink     Sink
	events   chan Event
	fallback *log.Logger

	written atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	// consecutive is only touched by run.
	consecutive int
}

func (w *sinkWorker) enqueue(event Event) {
	select {
	case w.events <- cloneForFields(event):
	default:
		if w.dropped.Add(1) == 1 {
			w.fallback.Printf("sink %s backlog full, dropping %s", w.name, event.Type)
		}
	}
}

// run writes events until the queue closes. A failing sink pauses with a
// doubling delay so a broken event log does not spin.
func (w *sinkWorker) run() {
	for event := range w.events {
		if err := w.sink.Write(event); err != nil {
			w.failed.Add(1)
			w.consecutive++
			delay := retryDelay(w.consecutive)
			w.fallback.Printf("sink %s failed writing %s: %v (pausing %s)", w.name, event.Type, err, delay)
			time.Sleep(delay)
			continue
		}
		w.consecutive = 0
		w.written.Add(1)
	}
}

func retryDelay(failures int) time.Duration {
	delay := minRetryDelay << min(failures-1, 6)
	return min(delay, maxRetryDelay)
}
