// Package orders implements the order manager: the order table, its
// active-order index, and its append-only per-order history, grounded
// on original_source's engine/order_manager.py.
package orders

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pi5labs/tradingcore/internal/core/events"
	"github.com/pi5labs/tradingcore/pkg/types"
)

// Callback is invoked whenever an order it was registered for changes
// state, mirroring submit_order's optional per-order callback.
type Callback func(order *types.Order)

// Manager owns the order table and its history; it translates inbound
// ORDER_UPDATE and TRADE_UPDATE events into state transitions (§4.2).
type Manager struct {
	logger   zerolog.Logger
	eventBus *events.EventBus

	mu        sync.RWMutex
	orders    map[string]*types.Order
	active    map[string]struct{}
	history   map[string][]*types.Order
	trades    map[string][]*types.Trade
	callbacks map[string]Callback
}

// New constructs an order manager and registers its ORDER_UPDATE and
// TRADE_UPDATE handlers on the bus.
func New(eventBus *events.EventBus, logger zerolog.Logger) *Manager {
	m := &Manager{
		logger:    logger,
		eventBus:  eventBus,
		orders:    make(map[string]*types.Order),
		active:    make(map[string]struct{}),
		history:   make(map[string][]*types.Order),
		trades:    make(map[string][]*types.Trade),
		callbacks: make(map[string]Callback),
	}
	eventBus.AddHandler(events.EventTypeOrderUpdate, m.handleOrderUpdate)
	eventBus.AddHandler(events.EventTypeTradeUpdate, m.handleTradeUpdate)
	return m
}

// SubmitOrder forces status to PENDING_NEW, stamps timestamps, stores
// the order, registers an optional callback, and emits ORDER_UPDATE.
// An order submitted without an order_id is assigned one.
func (m *Manager) SubmitOrder(order *types.Order, callback Callback) string {
	if order.OrderID == "" {
		order.OrderID = uuid.NewString()
	}
	now := time.Now().UTC()
	order.Status = types.OrderStatusPendingNew
	order.CreatedAt = now
	order.UpdatedAt = now

	m.mu.Lock()
	m.updateOrderStateLocked(order)
	if callback != nil {
		m.callbacks[order.OrderID] = callback
	}
	m.mu.Unlock()

	m.eventBus.Publish(events.NewOrderUpdateEvent("order_manager", order))
	return order.OrderID
}

// CancelOrder transitions an order to PENDING_CANCEL if it is known and
// currently NEW or PARTIALLY_FILLED. Returns false without mutation
// otherwise (§4.2 "Failure semantics").
func (m *Manager) CancelOrder(orderID string) bool {
	m.mu.Lock()
	order, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if order.Status != types.OrderStatusNew && order.Status != types.OrderStatusPartiallyFilled {
		m.mu.Unlock()
		m.logger.Warn().Str("order_id", orderID).Str("status", string(order.Status)).
			Msg("cannot cancel order in its current status")
		return false
	}
	order.Status = types.OrderStatusPendingCancel
	order.UpdatedAt = time.Now().UTC()
	m.updateOrderStateLocked(order)
	m.mu.Unlock()

	m.eventBus.Publish(events.NewOrderUpdateEvent("order_manager", order))
	return true
}

// ModifyOrder applies optional price/quantity changes under the same
// precondition as CancelOrder. Per the §9 open question, the modified
// order overwrites the prior state under the same order_id rather than
// producing a distinct child order.
func (m *Manager) ModifyOrder(orderID string, price, quantity *float64) bool {
	m.mu.Lock()
	order, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if order.Status != types.OrderStatusNew && order.Status != types.OrderStatusPartiallyFilled {
		m.mu.Unlock()
		m.logger.Warn().Str("order_id", orderID).Str("status", string(order.Status)).
			Msg("cannot modify order in its current status")
		return false
	}
	if quantity != nil && *quantity < order.FilledQuantity {
		m.mu.Unlock()
		return false
	}

	modified := order.Clone()
	if price != nil {
		modified.Price = price
	}
	if quantity != nil {
		modified.Quantity = *quantity
	}
	modified.UpdatedAt = time.Now().UTC()
	m.updateOrderStateLocked(modified)
	m.mu.Unlock()

	m.eventBus.Publish(events.NewOrderUpdateEvent("order_manager", modified))
	return true
}

// BatchCancelOrders cancels each id in turn, returning the per-id
// success map.
func (m *Manager) BatchCancelOrders(ids []string) map[string]bool {
	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		result[id] = m.CancelOrder(id)
	}
	return result
}

// CancelAllOrders cancels every active order matching the optional
// strategy/instrument filters and returns the number cancelled.
func (m *Manager) CancelAllOrders(strategyID, instrumentID *string) int {
	ids := make([]string, 0)
	for _, o := range m.GetActiveOrders(strategyID, instrumentID) {
		ids = append(ids, o.OrderID)
	}
	count := 0
	for _, ok := range m.BatchCancelOrders(ids) {
		if ok {
			count++
		}
	}
	return count
}

// GetOrder returns the current order snapshot, or nil if unknown.
func (m *Manager) GetOrder(orderID string) *types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil
	}
	return order.Clone()
}

// GetOrderHistory returns the append-only snapshot history for orderID.
func (m *Manager) GetOrderHistory(orderID string) []*types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*types.Order(nil), m.history[orderID]...)
}

// GetTrades returns the trades applied to orderID.
func (m *Manager) GetTrades(orderID string) []*types.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*types.Trade(nil), m.trades[orderID]...)
}

// GetActiveOrders returns active orders, optionally filtered by
// strategy and/or instrument.
func (m *Manager) GetActiveOrders(strategyID, instrumentID *string) []*types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*types.Order, 0, len(m.active))
	for id := range m.active {
		order := m.orders[id]
		if order == nil {
			continue
		}
		if strategyID != nil && order.StrategyID != *strategyID {
			continue
		}
		if instrumentID != nil && order.InstrumentID != *instrumentID {
			continue
		}
		result = append(result, order.Clone())
	}
	return result
}

// OrderStatistics is the §4.2 get_order_statistics() shape.
type OrderStatistics struct {
	ActiveOrders int
	TotalOrders  int
	ByStatus     map[types.OrderStatus]int
}

// GetOrderStatistics summarizes the order table.
func (m *Manager) GetOrderStatistics() OrderStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := OrderStatistics{
		ActiveOrders: len(m.active),
		TotalOrders:  len(m.orders),
		ByStatus:     make(map[types.OrderStatus]int),
	}
	for _, status := range []types.OrderStatus{
		types.OrderStatusPendingNew, types.OrderStatusNew, types.OrderStatusPartiallyFilled,
		types.OrderStatusFilled, types.OrderStatusPendingCancel, types.OrderStatusCancelled,
		types.OrderStatusRejected, types.OrderStatusExpired,
	} {
		stats.ByStatus[status] = 0
	}
	for _, order := range m.orders {
		stats.ByStatus[order.Status]++
	}
	return stats
}

// updateOrderStateLocked upserts order into the table, maintains the
// active index, and appends a deep-copy snapshot to history. Callers
// must hold m.mu.
func (m *Manager) updateOrderStateLocked(order *types.Order) {
	m.orders[order.OrderID] = order
	if order.IsActive() {
		m.active[order.OrderID] = struct{}{}
	} else {
		delete(m.active, order.OrderID)
	}
	m.history[order.OrderID] = append(m.history[order.OrderID], order.Clone())
}

// handleOrderUpdate is the ORDER_UPDATE bus handler: upserts the
// payload order and invokes any registered callback (§4.2 "Internal
// reactions"). This runs for every ORDER_UPDATE on the bus, including
// ones this manager itself just published — duplicate application is
// intentional: it leaves the order table and active index unchanged and
// appends one more history snapshot each time (§8 round-trip law).
func (m *Manager) handleOrderUpdate(ctx context.Context, event events.Event) error {
	evt, ok := event.(*events.OrderUpdateEvent)
	if !ok || evt.Order == nil {
		m.logger.Error().Msg("order_update event missing Order payload")
		return nil
	}
	order := evt.Order

	m.mu.Lock()
	m.updateOrderStateLocked(order)
	callback := m.callbacks[order.OrderID]
	m.mu.Unlock()

	if callback != nil {
		m.invokeCallback(callback, order)
	}
	return nil
}

func (m *Manager) invokeCallback(callback Callback, order *types.Order) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("order_id", order.OrderID).
				Msg("order callback panicked")
		}
	}()
	callback(order.Clone())
}

// handleTradeUpdate is the TRADE_UPDATE bus handler: applies a fill to
// its parent order per the §4.2 step-by-step formula.
func (m *Manager) handleTradeUpdate(ctx context.Context, event events.Event) error {
	evt, ok := event.(*events.TradeUpdateEvent)
	if !ok || evt.Trade == nil {
		m.logger.Error().Msg("trade_update event missing Trade payload")
		return nil
	}
	trade := evt.Trade

	m.mu.Lock()
	m.trades[trade.OrderID] = append(m.trades[trade.OrderID], trade)

	order, ok := m.orders[trade.OrderID]
	if !ok {
		m.mu.Unlock()
		return nil
	}

	newFilled := order.FilledQuantity + trade.Quantity
	prevFilled := newFilled - trade.Quantity
	if order.AverageFillPrice == nil {
		price := trade.Price
		order.AverageFillPrice = &price
	} else {
		avgOld := *order.AverageFillPrice
		avgNew := (avgOld*prevFilled + trade.Price*trade.Quantity) / newFilled
		order.AverageFillPrice = &avgNew
	}
	order.FilledQuantity = newFilled

	if absF(order.FilledQuantity-order.Quantity) < types.Epsilon {
		order.Status = types.OrderStatusFilled
	} else if order.FilledQuantity > 0 {
		order.Status = types.OrderStatusPartiallyFilled
	}
	order.UpdatedAt = time.Now().UTC()
	m.updateOrderStateLocked(order)
	m.mu.Unlock()

	m.eventBus.Publish(events.NewOrderUpdateEvent("order_manager", order))
	return nil
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
