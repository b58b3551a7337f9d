package events

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pi5labs/tradingcore/internal/circuitbreaker"
)

// Handler is a bus subscriber. Handlers registered for the same event
// type run sequentially, in registration order; an error or panic is isolated
// to that handler and never aborts dispatch of the remaining ones.
type Handler func(ctx context.Context, event Event) error

// HandlerID identifies a registered handler for later removal.
type HandlerID uint64

type handlerEntry struct {
	id      HandlerID
	handler Handler
}

// queueEntry is the (priority, enqueue_ts, event) tuple §4.1 describes;
// seq is a monotonic tiebreaker so entries with equal priority and
// timestamp still resolve FIFO.
type queueEntry struct {
	priority int
	enqueued time.Time
	seq      uint64
	event    Event
}

type entryHeap []*queueEntry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	if !h[i].enqueued.Equal(h[j].enqueued) {
		return h[i].enqueued.Before(h[j].enqueued)
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(*queueEntry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TypeMetrics summarizes one event type's dispatch history.
type TypeMetrics struct {
	EventsProcessed int64
	AvgLatencyMS    float64
	MaxLatencyMS    float64
}

// Metrics is the EventBus.Metrics() snapshot, §4.1.
type Metrics struct {
	QueueDepth    int
	DroppedEvents int64
	PerType       map[EventType]TypeMetrics
}

const maxLatencySamples = 1000

// EventBus is the priority, sequence-aware, throttled dispatch core
// described in §4.1, grounded on original_source's
// engine/event_processor.py. Constructor-injected zerolog.Logger and
// per-handler circuit breaking follow the teacher's idioms.
type EventBus struct {
	logger zerolog.Logger

	maxQueueSize int

	heapMu sync.Mutex
	cond   *sync.Cond
	queue  entryHeap
	seqGen uint64
	running bool

	handlersMu sync.RWMutex
	handlers   map[EventType][]handlerEntry
	nextID     HandlerID

	seqMu       sync.Mutex
	nextExpected map[string]uint64
	pending      map[string]map[uint64]Event

	throttleMu    sync.Mutex
	throttleLimit map[EventType]int
	throttleCount map[EventType]int
	throttleStart map[EventType]time.Time

	metricsMu  sync.Mutex
	dropped    map[EventType]int64
	processed  map[EventType]int64
	latencySum map[EventType]time.Duration
	latencyMax map[EventType]time.Duration
	latencyN   map[EventType]int64

	breakers *circuitbreaker.Manager
}

// NewEventBus constructs a bus with the given bounded queue size (0
// means unbounded) and logger.
func NewEventBus(maxQueueSize int, logger zerolog.Logger) *EventBus {
	eb := &EventBus{
		logger:        logger,
		maxQueueSize:  maxQueueSize,
		handlers:      make(map[EventType][]handlerEntry),
		nextExpected:  make(map[string]uint64),
		pending:       make(map[string]map[uint64]Event),
		throttleLimit: make(map[EventType]int),
		throttleCount: make(map[EventType]int),
		throttleStart: make(map[EventType]time.Time),
		dropped:       make(map[EventType]int64),
		processed:     make(map[EventType]int64),
		latencySum:    make(map[EventType]time.Duration),
		latencyMax:    make(map[EventType]time.Duration),
		latencyN:      make(map[EventType]int64),
		breakers:      circuitbreaker.NewManager(logger),
	}
	eb.cond = sync.NewCond(&eb.heapMu)
	return eb
}

// AddHandler registers a handler for eventType, appended after any
// already-registered handlers for that type (dispatch order is
// registration order, §5).
func (eb *EventBus) AddHandler(eventType EventType, handler Handler) HandlerID {
	eb.handlersMu.Lock()
	defer eb.handlersMu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{id: id, handler: handler})
	return id
}

// RemoveHandler unregisters a previously-added handler.
func (eb *EventBus) RemoveHandler(eventType EventType, id HandlerID) {
	eb.handlersMu.Lock()
	defer eb.handlersMu.Unlock()
	entries := eb.handlers[eventType]
	for i, e := range entries {
		if e.id == id {
			eb.handlers[eventType] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// SetThrottle configures a per-second cap on accepted events of the
// given type. A limit of 0 removes any existing throttle.
func (eb *EventBus) SetThrottle(eventType EventType, eventsPerSecond int) {
	eb.throttleMu.Lock()
	defer eb.throttleMu.Unlock()
	if eventsPerSecond <= 0 {
		delete(eb.throttleLimit, eventType)
		return
	}
	eb.throttleLimit[eventType] = eventsPerSecond
}

func (eb *EventBus) checkThrottle(eventType EventType) bool {
	eb.throttleMu.Lock()
	defer eb.throttleMu.Unlock()
	limit, ok := eb.throttleLimit[eventType]
	if !ok {
		return true
	}
	now := time.Now()
	start, seen := eb.throttleStart[eventType]
	if !seen || now.Sub(start) >= time.Second {
		eb.throttleStart[eventType] = now
		eb.throttleCount[eventType] = 0
	}
	if eb.throttleCount[eventType] >= limit {
		return false
	}
	eb.throttleCount[eventType]++
	return true
}

// Publish enqueues event unless the queue is at capacity or the event
// type is throttled, per §4.1. Returns false (and counts a drop) in
// either case.
func (eb *EventBus) Publish(event Event) bool {
	if !eb.checkThrottle(event.Type()) {
		eb.recordDrop(event.Type())
		eb.logger.Warn().Str("event_type", string(event.Type())).Msg("event throttled, dropped")
		return false
	}

	eb.heapMu.Lock()
	if eb.maxQueueSize > 0 && len(eb.queue) >= eb.maxQueueSize {
		eb.heapMu.Unlock()
		eb.recordDrop(event.Type())
		eb.logger.Warn().Str("event_type", string(event.Type())).Msg("event queue full, dropped")
		return false
	}
	eb.seqGen++
	heap.Push(&eb.queue, &queueEntry{
		priority: event.Priority(),
		enqueued: time.Now(),
		seq:      eb.seqGen,
		event:    event,
	})
	eb.cond.Signal()
	eb.heapMu.Unlock()
	return true
}

func (eb *EventBus) recordDrop(eventType EventType) {
	eb.metricsMu.Lock()
	eb.dropped[eventType]++
	eb.metricsMu.Unlock()
}

// Start runs the dispatch loop until Stop is called or ctx is
// cancelled. It blocks, so callers typically run it in its own
// goroutine.
func (eb *EventBus) Start(ctx context.Context) {
	eb.heapMu.Lock()
	eb.running = true
	eb.heapMu.Unlock()

	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			eb.Stop()
		case <-stopWatch:
		}
	}()
	defer close(stopWatch)

	for {
		eb.heapMu.Lock()
		for len(eb.queue) == 0 && eb.running {
			eb.cond.Wait()
		}
		if !eb.running {
			eb.heapMu.Unlock()
			return
		}
		entry := heap.Pop(&eb.queue).(*queueEntry)
		eb.heapMu.Unlock()

		eb.handleDequeued(ctx, entry.event)
	}
}

// Stop signals the dispatch loop to exit after the current event
// completes (§5 "Cancellation and timeouts").
func (eb *EventBus) Stop() {
	eb.heapMu.Lock()
	eb.running = false
	eb.cond.Broadcast()
	eb.heapMu.Unlock()
}

// handleDequeued applies per-source sequence reordering before
// dispatch, §4.1 "Sequence reordering".
func (eb *EventBus) handleDequeued(ctx context.Context, event Event) {
	seqID := event.SequenceID()
	if seqID == nil {
		eb.dispatch(ctx, event)
		return
	}

	source := event.Source()
	eb.seqMu.Lock()
	expected := eb.nextExpected[source]

	switch {
	case *seqID == expected:
		eb.nextExpected[source] = expected + 1
		eb.seqMu.Unlock()
		eb.dispatch(ctx, event)
		eb.drainPending(ctx, source)
	case *seqID > expected:
		if eb.pending[source] == nil {
			eb.pending[source] = make(map[uint64]Event)
		}
		eb.pending[source][*seqID] = event
		eb.seqMu.Unlock()
	default:
		eb.seqMu.Unlock()
		eb.logger.Warn().
			Str("source", source).
			Uint64("sequence_id", *seqID).
			Uint64("expected", expected).
			Msg("out-of-sequence event dropped")
	}
}

func (eb *EventBus) drainPending(ctx context.Context, source string) {
	for {
		eb.seqMu.Lock()
		next := eb.nextExpected[source]
		buf := eb.pending[source]
		event, ok := buf[next]
		if ok {
			delete(buf, next)
			eb.nextExpected[source] = next + 1
		}
		eb.seqMu.Unlock()
		if !ok {
			return
		}
		eb.dispatch(ctx, event)
	}
}

// dispatch runs every registered handler for event's type, sequentially
// in registration order, each wrapped in a per-handler circuit breaker
// and panic recovery (§4.1 "Handler dispatch").
func (eb *EventBus) dispatch(ctx context.Context, event Event) {
	eb.handlersMu.RLock()
	entries := append([]handlerEntry(nil), eb.handlers[event.Type()]...)
	eb.handlersMu.RUnlock()

	start := time.Now()
	for _, entry := range entries {
		eb.invokeHandler(ctx, event, entry)
	}
	elapsed := time.Since(start)

	eb.metricsMu.Lock()
	eb.processed[event.Type()]++
	eb.latencySum[event.Type()] += elapsed
	eb.latencyN[event.Type()]++
	if elapsed > eb.latencyMax[event.Type()] {
		eb.latencyMax[event.Type()] = elapsed
	}
	if eb.latencyN[event.Type()] > maxLatencySamples {
		// bound the window: halve the accumulated sum/count so the
		// moving average stays representative without retaining every
		// sample (§4.1 "bounded to last 1000").
		eb.latencySum[event.Type()] /= 2
		eb.latencyN[event.Type()] /= 2
	}
	eb.metricsMu.Unlock()
}

func (eb *EventBus) invokeHandler(ctx context.Context, event Event, entry handlerEntry) {
	breakerKey := fmt.Sprintf("%s#%d", event.Type(), entry.id)
	breaker := eb.breakers.GetOrCreate(breakerKey, circuitbreaker.DefaultHandlerConfig(eb.logger))

	err := breaker.Execute(func() error {
		return eb.safeInvoke(ctx, event, entry.handler)
	})
	if err != nil {
		eb.logger.Error().
			Err(err).
			Str("event_type", string(event.Type())).
			Msg("event handler failed")
	}
}

func (eb *EventBus) safeInvoke(ctx context.Context, event Event, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

// Metrics returns the current queue depth, dropped count, and per-type
// latency summary, §4.1 "metrics()".
func (eb *EventBus) Metrics() Metrics {
	eb.heapMu.Lock()
	depth := len(eb.queue)
	eb.heapMu.Unlock()

	eb.metricsMu.Lock()
	defer eb.metricsMu.Unlock()

	perType := make(map[EventType]TypeMetrics, len(eb.processed))
	seen := make(map[EventType]struct{})
	for t := range eb.processed {
		seen[t] = struct{}{}
	}
	for t := range eb.dropped {
		seen[t] = struct{}{}
	}
	for t := range seen {
		var avg float64
		if eb.latencyN[t] > 0 {
			avg = float64(eb.latencySum[t]) / float64(eb.latencyN[t]) / float64(time.Millisecond)
		}
		perType[t] = TypeMetrics{
			EventsProcessed: eb.processed[t],
			AvgLatencyMS:    avg,
			MaxLatencyMS:    float64(eb.latencyMax[t]) / float64(time.Millisecond),
		}
	}

	var totalDropped int64
	for _, d := range eb.dropped {
		totalDropped += d
	}

	return Metrics{QueueDepth: depth, DroppedEvents: totalDropped, PerType: perType}
}

// BreakerStates reports the current state of every per-handler circuit
// breaker the bus has created, keyed the same way invokeHandler names
// them ("<event_type>#<handler_id>").
func (eb *EventBus) BreakerStates() map[string]circuitbreaker.State {
	raw := eb.breakers.GetAllMetrics()
	states := make(map[string]circuitbreaker.State, len(raw))
	for name := range raw {
		if b, ok := eb.breakers.Get(name); ok {
			states[name] = b.GetState()
		}
	}
	return states
}
