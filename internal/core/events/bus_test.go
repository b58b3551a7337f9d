package events

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pi5labs/tradingcore/pkg/types"
)

func runBus(bus *EventBus) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bus.Start(ctx)
		close(done)
	}()
	return func() {
		bus.Stop()
		cancel()
		<-done
	}
}

func TestPublish_HigherPriorityDispatchesFirst(t *testing.T) {
	bus := NewEventBus(0, zerolog.Nop())

	var order []int
	done := make(chan struct{})
	bus.AddHandler(EventTypeSystemEvent, func(ctx context.Context, event Event) error {
		evt := event.(*SystemEvent)
		n := evt.Payload.Fields["n"].(int)
		order = append(order, n)
		if len(order) == 3 {
			close(done)
		}
		return nil
	})

	// Seed the queue before the dispatch loop starts so all three are
	// ordered by the priority heap rather than racing a live dispatcher:
	// publish low-priority first so it would dispatch first under FIFO;
	// the two higher-priority (lower-number) events should still cut ahead.
	bus.Publish(NewSystemEvent("s", &types.SystemEventPayload{Fields: map[string]any{"n": 3}}, WithPriority(5)))
	bus.Publish(NewSystemEvent("s", &types.SystemEventPayload{Fields: map[string]any{"n": 1}}, WithPriority(1)))
	bus.Publish(NewSystemEvent("s", &types.SystemEventPayload{Fields: map[string]any{"n": 2}}, WithPriority(1)))

	stop := runBus(bus)
	defer stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	if order[0] != 1 || order[1] != 2 {
		t.Fatalf("dispatch order = %v, want priority-1 events (1, 2) before priority-5 event", order)
	}
}

func TestSequenceReordering_BuffersAndDrainsInOrder(t *testing.T) {
	bus := NewEventBus(0, zerolog.Nop())

	var order []uint64
	done := make(chan struct{})
	bus.AddHandler(EventTypeMarketData, func(ctx context.Context, event Event) error {
		evt := event.(*MarketDataEvent)
		order = append(order, *evt.SequenceID())
		if len(order) == 3 {
			close(done)
		}
		return nil
	})

	stop := runBus(bus)
	defer stop()

	data := func(seq uint64) *types.MarketData {
		return &types.MarketData{InstrumentID: "AAPL", DataType: types.MarketDataTypeTrade, Data: types.TradePayload{Price: 1}}
	}

	// Out of order: 2 arrives first and must buffer until 0 and 1 drain.
	bus.Publish(NewMarketDataEvent("feed1", data(2), WithSequenceID(2)))
	bus.Publish(NewMarketDataEvent("feed1", data(0), WithSequenceID(0)))
	bus.Publish(NewMarketDataEvent("feed1", data(1), WithSequenceID(1)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	if order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("dispatch order = %v, want [0 1 2]", order)
	}
}

func TestThrottle_DropsEventsOverLimit(t *testing.T) {
	bus := NewEventBus(0, zerolog.Nop())
	bus.SetThrottle(EventTypeSystemEvent, 1)

	first := bus.Publish(NewSystemEvent("s", &types.SystemEventPayload{Type: "a"}))
	second := bus.Publish(NewSystemEvent("s", &types.SystemEventPayload{Type: "b"}))

	if !first {
		t.Fatal("first publish within the throttle window should succeed")
	}
	if second {
		t.Fatal("second publish within the same window should be throttled")
	}
	if bus.Metrics().DroppedEvents != 1 {
		t.Fatalf("dropped events = %d, want 1", bus.Metrics().DroppedEvents)
	}
}

func TestPublish_DropsWhenQueueFull(t *testing.T) {
	bus := NewEventBus(1, zerolog.Nop())
	// Don't start the bus so nothing drains the queue.
	if !bus.Publish(NewSystemEvent("s", &types.SystemEventPayload{Type: "a"})) {
		t.Fatal("first publish into an empty bounded queue should succeed")
	}
	if bus.Publish(NewSystemEvent("s", &types.SystemEventPayload{Type: "b"})) {
		t.Fatal("second publish into a full bounded queue should be dropped")
	}
}

func TestHandlerPanic_IsIsolated(t *testing.T) {
	bus := NewEventBus(0, zerolog.Nop())

	secondRan := make(chan struct{})
	bus.AddHandler(EventTypeSystemEvent, func(ctx context.Context, event Event) error {
		panic("boom")
	})
	bus.AddHandler(EventTypeSystemEvent, func(ctx context.Context, event Event) error {
		close(secondRan)
		return nil
	})

	stop := runBus(bus)
	defer stop()

	bus.Publish(NewSystemEvent("s", &types.SystemEventPayload{Type: "a"}))

	select {
	case <-secondRan:
	case <-time.After(2 * time.Second):
		t.Fatal("second handler should still run after the first one panics")
	}
}
