// Package positions implements the position manager: one Position per
// instrument, re-priced on market data and updated on trades, grounded
// on original_source's engine/position_manager.py.
package positions

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pi5labs/tradingcore/internal/core/events"
	"github.com/pi5labs/tradingcore/pkg/types"
)

const (
	publishAbsThreshold = 0.01
	publishRelThreshold = 0.001
)

// Manager owns the position table (§4.3).
type Manager struct {
	logger   zerolog.Logger
	eventBus *events.EventBus

	mu                  sync.RWMutex
	positions           map[string]*types.Position
	positionUpdateCount int64
}

// New constructs a position manager and registers its TRADE_UPDATE and
// MARKET_DATA handlers on the bus.
func New(eventBus *events.EventBus, logger zerolog.Logger) *Manager {
	m := &Manager{
		logger:    logger,
		eventBus:  eventBus,
		positions: make(map[string]*types.Position),
	}
	eventBus.AddHandler(events.EventTypeTradeUpdate, m.handleTradeUpdate)
	eventBus.AddHandler(events.EventTypeMarketData, m.handleMarketData)
	return m
}

// GetPosition returns the position for instrumentID, lazily creating a
// flat one if it doesn't exist yet (§9 "created lazily").
func (m *Manager) GetPosition(instrumentID string) *types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(instrumentID).Clone()
}

func (m *Manager) getOrCreateLocked(instrumentID string) *types.Position {
	p, ok := m.positions[instrumentID]
	if !ok {
		p = types.NewPosition(instrumentID)
		m.positions[instrumentID] = p
	}
	return p
}

// GetAllPositions returns a snapshot of every tracked position.
func (m *Manager) GetAllPositions() []*types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		result = append(result, p.Clone())
	}
	return result
}

// GetNetPositionValue sums position_value across all positions.
func (m *Manager) GetNetPositionValue() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, p := range m.positions {
		total += p.PositionValue
	}
	return total
}

// PnLSummary is the §4.3 get_pnl_summary() shape.
type PnLSummary struct {
	RealizedPnL   float64
	UnrealizedPnL float64
	TotalPnL      float64
}

// GetPnLSummary aggregates realized/unrealized P&L across all positions.
func (m *Manager) GetPnLSummary() PnLSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var summary PnLSummary
	for _, p := range m.positions {
		summary.RealizedPnL += p.RealizedPnL
		summary.UnrealizedPnL += p.UnrealizedPnL
	}
	summary.TotalPnL = summary.RealizedPnL + summary.UnrealizedPnL
	return summary
}

// UpdatePositionPrice is a manual mark-to-market override; unlike the
// MARKET_DATA handler's gating, it always publishes.
func (m *Manager) UpdatePositionPrice(instrumentID string, price float64) {
	m.mu.Lock()
	p := m.getOrCreateLocked(instrumentID)
	p.UpdatePrice(price)
	p.Timestamp = time.Now().UTC()
	snapshot := p.Clone()
	m.mu.Unlock()

	m.eventBus.Publish(events.NewPositionUpdateEvent("position_manager", snapshot))
}

// AddStrategyAllocation records instrumentID's allocation to strategyID
// and always publishes a POSITION_UPDATE.
func (m *Manager) AddStrategyAllocation(instrumentID, strategyID string, quantity float64) {
	m.mu.Lock()
	p := m.getOrCreateLocked(instrumentID)
	p.StrategyAllocations[strategyID] = quantity
	p.Timestamp = time.Now().UTC()
	snapshot := p.Clone()
	m.mu.Unlock()

	m.eventBus.Publish(events.NewPositionUpdateEvent("position_manager", snapshot))
}

// GetStrategyExposure returns, for every position allocated to
// strategyID, the allocated (signed) quantity.
func (m *Manager) GetStrategyExposure(strategyID string) map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]float64)
	for instrumentID, p := range m.positions {
		if qty, ok := p.StrategyAllocations[strategyID]; ok {
			result[instrumentID] = qty
		}
	}
	return result
}

// PositionStatistics is the §4.3 get_position_statistics() shape.
type PositionStatistics struct {
	PnLSummary
	PositionCount       int
	LongCount           int
	ShortCount          int
	FlatCount           int
	LargestLongValue    float64
	LargestShortValue   float64
	PositionUpdateCount int64
}

// GetPositionStatistics aggregates position-table-wide statistics.
func (m *Manager) GetPositionStatistics() PositionStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := PositionStatistics{PositionCount: len(m.positions), PositionUpdateCount: m.positionUpdateCount}
	for _, p := range m.positions {
		stats.RealizedPnL += p.RealizedPnL
		stats.UnrealizedPnL += p.UnrealizedPnL
		switch {
		case p.Quantity > 0:
			stats.LongCount++
			if p.PositionValue > stats.LargestLongValue {
				stats.LargestLongValue = p.PositionValue
			}
		case p.Quantity < 0:
			stats.ShortCount++
			if p.PositionValue < stats.LargestShortValue {
				stats.LargestShortValue = p.PositionValue
			}
		default:
			stats.FlatCount++
		}
	}
	stats.TotalPnL = stats.RealizedPnL + stats.UnrealizedPnL
	return stats
}

// handleTradeUpdate applies a fill to the relevant position and always
// publishes POSITION_UPDATE (§4.3 "Trade-driven updates always publish").
func (m *Manager) handleTradeUpdate(ctx context.Context, event events.Event) error {
	evt, ok := event.(*events.TradeUpdateEvent)
	if !ok || evt.Trade == nil {
		m.logger.Error().Msg("trade_update event missing Trade payload")
		return nil
	}
	trade := evt.Trade

	m.mu.Lock()
	p := m.getOrCreateLocked(trade.InstrumentID)
	p.ApplyTrade(trade.Side, trade.Quantity, trade.Price)
	p.Timestamp = time.Now().UTC()
	m.positionUpdateCount++
	snapshot := p.Clone()
	m.mu.Unlock()

	m.eventBus.Publish(events.NewPositionUpdateEvent("position_manager", snapshot))
	return nil
}

// handleMarketData re-prices the relevant position, if any is already
// tracked, publishing only when the gating threshold is crossed
// (§4.3 "Publication gating"). Unlike GetPosition, this never lazily
// creates a position purely from a market-data tick.
func (m *Manager) handleMarketData(ctx context.Context, event events.Event) error {
	evt, ok := event.(*events.MarketDataEvent)
	if !ok || evt.Data == nil {
		m.logger.Error().Msg("market_data event missing MarketData payload")
		return nil
	}
	price, ok := evt.Data.ExtractPrice()
	if !ok {
		return nil
	}

	m.mu.Lock()
	p, tracked := m.positions[evt.Data.InstrumentID]
	if !tracked {
		m.mu.Unlock()
		return nil
	}

	oldUnrealized := p.UnrealizedPnL
	p.UpdatePrice(price)
	p.Timestamp = time.Now().UTC()
	snapshot := p.Clone()
	m.mu.Unlock()

	delta := absF(snapshot.UnrealizedPnL - oldUnrealized)
	denom := absF(oldUnrealized)
	if denom < publishAbsThreshold {
		denom = publishAbsThreshold
	}
	if delta > publishAbsThreshold || delta/denom > publishRelThreshold {
		m.eventBus.Publish(events.NewPositionUpdateEvent("position_manager", snapshot))
	}
	return nil
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
