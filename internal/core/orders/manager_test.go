package orders

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pi5labs/tradingcore/internal/core/events"
	"github.com/pi5labs/tradingcore/pkg/types"
)

func newTestManager() (*Manager, *events.EventBus) {
	bus := events.NewEventBus(0, zerolog.Nop())
	return New(bus, zerolog.Nop()), bus
}

func TestSubmitOrder_ForcesPendingNew(t *testing.T) {
	m, _ := newTestManager()
	price := 100.0
	order := &types.Order{OrderID: "o1", InstrumentID: "AAPL", Side: types.OrderSideBuy, Quantity: 10, Price: &price}

	id := m.SubmitOrder(order, nil)
	if id != "o1" {
		t.Fatalf("order id = %q, want o1", id)
	}

	stored := m.GetOrder("o1")
	if stored == nil || stored.Status != types.OrderStatusPendingNew {
		t.Fatalf("stored order status = %v, want PENDING_NEW", stored)
	}
}

func TestSubmitOrder_AssignsIDWhenMissing(t *testing.T) {
	m, _ := newTestManager()
	order := &types.Order{InstrumentID: "AAPL", Side: types.OrderSideBuy, Quantity: 1}
	id := m.SubmitOrder(order, nil)
	if id == "" {
		t.Fatal("expected an assigned order id")
	}
}

func TestCancelOrder_FailsWhenPendingNew(t *testing.T) {
	m, _ := newTestManager()
	order := &types.Order{OrderID: "o1", InstrumentID: "AAPL", Side: types.OrderSideBuy, Quantity: 10}
	m.SubmitOrder(order, nil)

	if m.CancelOrder("o1") {
		t.Fatal("cancel should fail while order is still PENDING_NEW, not NEW/PARTIALLY_FILLED")
	}
}

func TestCancelOrder_SucceedsWhenActive(t *testing.T) {
	m, _ := newTestManager()
	order := &types.Order{OrderID: "o1", InstrumentID: "AAPL", Side: types.OrderSideBuy, Quantity: 10, Status: types.OrderStatusNew}
	m.mu.Lock()
	m.updateOrderStateLocked(order)
	m.mu.Unlock()

	if !m.CancelOrder("o1") {
		t.Fatal("expected cancel to succeed for a NEW order")
	}
	if got := m.GetOrder("o1").Status; got != types.OrderStatusPendingCancel {
		t.Fatalf("status = %v, want PENDING_CANCEL", got)
	}
}

func TestModifyOrder_RejectsQuantityBelowFilled(t *testing.T) {
	m, _ := newTestManager()
	order := &types.Order{OrderID: "o1", InstrumentID: "AAPL", Side: types.OrderSideBuy, Quantity: 10, FilledQuantity: 5, Status: types.OrderStatusPartiallyFilled}
	m.mu.Lock()
	m.updateOrderStateLocked(order)
	m.mu.Unlock()

	newQty := 3.0
	if m.ModifyOrder("o1", nil, &newQty) {
		t.Fatal("modify should fail when new quantity is below filled quantity")
	}
}

func TestModifyOrder_OverwritesSameOrderID(t *testing.T) {
	m, _ := newTestManager()
	order := &types.Order{OrderID: "o1", InstrumentID: "AAPL", Side: types.OrderSideBuy, Quantity: 10, Status: types.OrderStatusNew}
	m.mu.Lock()
	m.updateOrderStateLocked(order)
	m.mu.Unlock()

	newQty := 20.0
	if !m.ModifyOrder("o1", nil, &newQty) {
		t.Fatal("expected modify to succeed")
	}
	if got := m.GetOrder("o1").Quantity; got != 20 {
		t.Fatalf("quantity = %v, want 20 overwriting the same order_id", got)
	}
	if len(m.GetOrderHistory("o1")) < 2 {
		t.Fatal("expected modify to append a history snapshot")
	}
}

// TestFillSequence_AverageFillPrice matches spec §8 scenario 6: BUY 10
// @ 100 filled in two trades, 3 @ 99 then 7 @ 101, average fill price
// 100.4.
func TestFillSequence_AverageFillPrice(t *testing.T) {
	m, bus := newTestManager()
	price := 100.0
	order := &types.Order{OrderID: "o1", InstrumentID: "AAPL", Side: types.OrderSideBuy, Quantity: 10, Price: &price, Status: types.OrderStatusNew}
	m.mu.Lock()
	m.updateOrderStateLocked(order)
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		bus.Start(ctx)
		close(done)
	}()

	bus.Publish(events.NewTradeUpdateEvent("test", &types.Trade{
		TradeID: "t1", OrderID: "o1", InstrumentID: "AAPL", Quantity: 3, Price: 99, Side: types.OrderSideBuy, Timestamp: time.Now(),
	}))
	bus.Publish(events.NewTradeUpdateEvent("test", &types.Trade{
		TradeID: "t2", OrderID: "o1", InstrumentID: "AAPL", Quantity: 7, Price: 101, Side: types.OrderSideBuy, Timestamp: time.Now(),
	}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if stored := m.GetOrder("o1"); stored.Status == types.OrderStatusFilled {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	bus.Stop()
	<-done

	stored := m.GetOrder("o1")
	if stored.Status != types.OrderStatusFilled {
		t.Fatalf("status = %v, want FILLED", stored.Status)
	}
	if stored.AverageFillPrice == nil || !closeEnough(*stored.AverageFillPrice, 100.4) {
		t.Fatalf("average fill price = %v, want 100.4", stored.AverageFillPrice)
	}
}

func closeEnough(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-6
}
