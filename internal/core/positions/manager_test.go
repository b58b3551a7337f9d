package positions

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

func runBus(t *testing.T, bus *events.EventBus) (stop func()) {
	t.Helper()
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

func TestGetPosition_LazilyCreatesFlat(t *testing.T) {
	m, _ := newTestManager()
	p := m.GetPosition("AAPL")
	if p.Quantity != 0 {
		t.Fatalf("quantity = %v, want 0 for a freshly lazily-created position", p.Quantity)
	}
}

func TestTradeUpdate_AlwaysPublishes(t *testing.T) {
	m, bus := newTestManager()
	defer runBus(t, bus)()

	received := make(chan *types.Position, 1)
	bus.AddHandler(events.EventTypePositionUpdate, func(ctx context.Context, event events.Event) error {
		evt := event.(*events.PositionUpdateEvent)
		select {
		case received <- evt.Position:
		default:
		}
		return nil
	})

	bus.Publish(events.NewTradeUpdateEvent("test", &types.Trade{
		TradeID: "t1", OrderID: "o1", InstrumentID: "AAPL", Quantity: 10, Price: 100, Side: types.OrderSideBuy, Timestamp: time.Now(),
	}))

	select {
	case p := <-received:
		if p.Quantity != 10 {
			t.Fatalf("published position quantity = %v, want 10", p.Quantity)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for POSITION_UPDATE")
	}
}

func TestMarketData_DoesNotLazilyCreatePosition(t *testing.T) {
	m, bus := newTestManager()
	defer runBus(t, bus)()

	received := make(chan struct{}, 1)
	bus.AddHandler(events.EventTypePositionUpdate, func(ctx context.Context, event events.Event) error {
		select {
		case received <- struct{}{}:
		default:
		}
		return nil
	})

	bus.Publish(events.NewMarketDataEvent("test", &types.MarketData{
		InstrumentID: "AAPL", DataType: types.MarketDataTypeTrade, Data: types.TradePayload{Price: 150, Size: 1},
	}))

	select {
	case <-received:
		t.Fatal("expected no POSITION_UPDATE for market data on an untracked instrument")
	case <-time.After(200 * time.Millisecond):
	}

	if got := m.GetAllPositions(); len(got) != 0 {
		t.Fatalf("expected no positions tracked yet, got %d", len(got))
	}
}

func TestPnLSummary_ReportsRealizedPnLFromClosingTrade(t *testing.T) {
	m, bus := newTestManager()
	defer runBus(t, bus)()

	bus.Publish(events.NewTradeUpdateEvent("test", &types.Trade{
		TradeID: "t1", OrderID: "o1", InstrumentID: "AAPL", Quantity: 10, Price: 100, Side: types.OrderSideBuy, Timestamp: time.Now(),
	}))
	bus.Publish(events.NewTradeUpdateEvent("test", &types.Trade{
		TradeID: "t2", OrderID: "o2", InstrumentID: "AAPL", Quantity: 10, Price: 110, Side: types.OrderSideSell, Timestamp: time.Now(),
	}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.GetPnLSummary().RealizedPnL != 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	summary := m.GetPnLSummary()
	if summary.RealizedPnL != 100 {
		t.Fatalf("realized pnl = %v, want 100", summary.RealizedPnL)
	}
}
