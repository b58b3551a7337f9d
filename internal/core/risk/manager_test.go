package risk

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pi5labs/tradingcore/internal/config"
	"github.com/pi5labs/tradingcore/internal/core/events"
	"github.com/pi5labs/tradingcore/internal/core/positions"
	"github.com/pi5labs/tradingcore/pkg/types"
)

func newTestSetup() (*Manager, *positions.Manager, *events.EventBus) {
	bus := events.NewEventBus(0, zerolog.Nop())
	posManager := positions.New(bus, zerolog.Nop())
	riskManager := New(bus, posManager, config.RiskLimitsConfig{}, zerolog.Nop())
	return riskManager, posManager, bus
}

func runBus(bus *events.EventBus) (stop func()) {
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

func TestPositionLimitRule_RejectsOverLimitOrder(t *testing.T) {
	rm, _, _ := newTestSetup()
	rm.AddRule(NewPositionLimitRule("AAPL", 100))

	price := 10.0
	passed, messages := rm.CheckRules(Context{
		Order:     &OrderView{InstrumentID: "AAPL", Side: "BUY", Quantity: 150, Price: &price},
		EventType: "order",
	})
	if passed {
		t.Fatal("expected position limit rule to reject an order exceeding the limit")
	}
	if len(messages) != 1 {
		t.Fatalf("messages = %v, want exactly one violation message", messages)
	}
}

func TestPositionLimitRule_NotApplicableToOtherInstrument(t *testing.T) {
	rm, _, _ := newTestSetup()
	rm.AddRule(NewPositionLimitRule("AAPL", 1))

	passed, _ := rm.CheckRules(Context{
		Order:     &OrderView{InstrumentID: "MSFT", Side: "BUY", Quantity: 1000},
		EventType: "order",
	})
	if !passed {
		t.Fatal("rule scoped to AAPL should not block an order on MSFT")
	}
}

func TestHandleOrderUpdate_RejectsOnViolation(t *testing.T) {
	rm, _, bus := newTestSetup()
	rm.AddRule(NewPositionLimitRule("AAPL", 5))
	defer runBus(bus)()

	rejected := make(chan *types.Order, 1)
	bus.AddHandler(events.EventTypeOrderUpdate, func(ctx context.Context, event events.Event) error {
		evt := event.(*events.OrderUpdateEvent)
		if evt.Order.Status == types.OrderStatusRejected {
			select {
			case rejected <- evt.Order:
			default:
			}
		}
		return nil
	})

	bus.Publish(events.NewOrderUpdateEvent("order_manager", &types.Order{
		OrderID: "o1", InstrumentID: "AAPL", Side: types.OrderSideBuy, Quantity: 50, Status: types.OrderStatusPendingNew,
	}))

	select {
	case order := <-rejected:
		if order.OrderID != "o1" {
			t.Fatalf("rejected order id = %q, want o1", order.OrderID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for risk rejection")
	}
}

func TestHandleOrderUpdate_IgnoresNonPendingNew(t *testing.T) {
	rm, _, bus := newTestSetup()
	rm.AddRule(NewPositionLimitRule("AAPL", 1))
	defer runBus(bus)()

	received := make(chan struct{}, 1)
	bus.AddHandler(events.EventTypeRiskCheck, func(ctx context.Context, event events.Event) error {
		select {
		case received <- struct{}{}:
		default:
		}
		return nil
	})

	bus.Publish(events.NewOrderUpdateEvent("order_manager", &types.Order{
		OrderID: "o1", InstrumentID: "AAPL", Side: types.OrderSideBuy, Quantity: 1000, Status: types.OrderStatusFilled,
	}))

	select {
	case <-received:
		t.Fatal("risk manager should not evaluate an order update that isn't PENDING_NEW")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDrawdownLimitRule_PassesBeforePeakEstablished(t *testing.T) {
	rule := NewDrawdownLimitRule(10, 1)
	rm, posManager, _ := newTestSetup()

	posManager.UpdatePositionPrice("AAPL", 100)
	passed, _ := rule.Check(rm, Context{EventType: "periodic"})
	if !passed {
		t.Fatal("no drawdown established yet, should pass")
	}
}

func TestGetRiskSummaryFrom_ComputesExposure(t *testing.T) {
	rm, _, _ := newTestSetup()
	rm.AddRule(NewPositionLimitRule("AAPL", 100))

	positionsSnapshot := []*types.Position{
		{InstrumentID: "AAPL", Quantity: 10, PositionValue: 1000},
		{InstrumentID: "MSFT", Quantity: -5, PositionValue: -500},
	}
	summary := rm.GetRiskSummaryFrom(positionsSnapshot)

	if summary.GrossExposure != 1500 {
		t.Fatalf("gross exposure = %v, want 1500", summary.GrossExposure)
	}
	if summary.NetExposure != 500 {
		t.Fatalf("net exposure = %v, want 500", summary.NetExposure)
	}
	if summary.ActiveRules != 1 {
		t.Fatalf("active rules = %d, want 1", summary.ActiveRules)
	}
}
