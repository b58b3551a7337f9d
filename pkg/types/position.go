package types

import (
	"encoding/json"
	"sort"
	"time"
)

// Position is the position manager's authoritative per-instrument
// record: signed quantity, weighted average entry price, and realized /
// unrealized P&L. See spec §4.3 for the trade-application cases this
// type implements.
type Position struct {
	InstrumentID        string              `json:"instrument_id"`
	Quantity            float64             `json:"quantity"`
	AverageEntryPrice   float64             `json:"average_entry_price"`
	CurrentPrice        *float64            `json:"current_price,omitempty"`
	RealizedPnL         float64             `json:"realized_pnl"`
	UnrealizedPnL       float64             `json:"unrealized_pnl"`
	PositionValue       float64             `json:"position_value"`
	Timestamp           time.Time           `json:"timestamp"`
	OpenOrders          map[string]struct{} `json:"-"`
	StrategyAllocations map[string]float64  `json:"strategy_allocations,omitempty"`
	Exchange            string              `json:"exchange,omitempty"`
}

// positionWire is Position's wire shape: open_orders travels as a
// sorted slice of order IDs rather than the in-memory set, matching
// the source's Position.to_dict (§3 "open_orders").
type positionWire struct {
	InstrumentID        string             `json:"instrument_id"`
	Quantity            float64            `json:"quantity"`
	AverageEntryPrice   float64            `json:"average_entry_price"`
	CurrentPrice        *float64           `json:"current_price,omitempty"`
	RealizedPnL         float64            `json:"realized_pnl"`
	UnrealizedPnL       float64            `json:"unrealized_pnl"`
	PositionValue       float64            `json:"position_value"`
	Timestamp           time.Time          `json:"timestamp"`
	OpenOrders          []string           `json:"open_orders,omitempty"`
	StrategyAllocations map[string]float64 `json:"strategy_allocations,omitempty"`
	Exchange            string             `json:"exchange,omitempty"`
}

// MarshalJSON flattens OpenOrders into a slice of order IDs so the
// position round-trips losslessly (§8).
func (p Position) MarshalJSON() ([]byte, error) {
	orderIDs := make([]string, 0, len(p.OpenOrders))
	for id := range p.OpenOrders {
		orderIDs = append(orderIDs, id)
	}
	sort.Strings(orderIDs)
	return json.Marshal(positionWire{
		InstrumentID:        p.InstrumentID,
		Quantity:            p.Quantity,
		AverageEntryPrice:   p.AverageEntryPrice,
		CurrentPrice:        p.CurrentPrice,
		RealizedPnL:         p.RealizedPnL,
		UnrealizedPnL:       p.UnrealizedPnL,
		PositionValue:       p.PositionValue,
		Timestamp:           p.Timestamp,
		OpenOrders:          orderIDs,
		StrategyAllocations: p.StrategyAllocations,
		Exchange:            p.Exchange,
	})
}

// UnmarshalJSON rebuilds OpenOrders as a set from the wire slice.
func (p *Position) UnmarshalJSON(raw []byte) error {
	var wire positionWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	openOrders := make(map[string]struct{}, len(wire.OpenOrders))
	for _, id := range wire.OpenOrders {
		openOrders[id] = struct{}{}
	}
	p.InstrumentID = wire.InstrumentID
	p.Quantity = wire.Quantity
	p.AverageEntryPrice = wire.AverageEntryPrice
	p.CurrentPrice = wire.CurrentPrice
	p.RealizedPnL = wire.RealizedPnL
	p.UnrealizedPnL = wire.UnrealizedPnL
	p.PositionValue = wire.PositionValue
	p.Timestamp = wire.Timestamp
	p.OpenOrders = openOrders
	p.StrategyAllocations = wire.StrategyAllocations
	p.Exchange = wire.Exchange
	return nil
}

// NewPosition returns a flat position for instrumentID, as the position
// manager lazily creates on first reference (§4.3, §9 "created lazily").
func NewPosition(instrumentID string) *Position {
	return &Position{
		InstrumentID:        instrumentID,
		OpenOrders:          make(map[string]struct{}),
		StrategyAllocations: make(map[string]float64),
	}
}

// ApplyTrade applies a single fill to this position, implementing the
// four cases of §4.3's trade-application arithmetic: partial close,
// flip, same-direction weighted average, and exact close. It always
// finishes by marking the position to the trade price.
func (p *Position) ApplyTrade(side OrderSide, quantity, price float64) {
	q := p.Quantity
	avg := p.AverageEntryPrice
	signedTQ := side.Sign() * quantity
	newQ := q + signedTQ

	oppositeSign := q*signedTQ < 0

	switch {
	case oppositeSign && absF(signedTQ) <= absF(q):
		// Case 1: partial close (or exact close, new_q == 0 handled below
		// by the same formula — case 4 in the spec is this case with
		// new_q == 0, which falls out naturally here).
		closedQty := absF(signedTQ)
		if q > 0 {
			p.RealizedPnL += closedQty * (price - avg)
		} else {
			p.RealizedPnL += closedQty * (avg - price)
		}
		p.Quantity = newQ
		if p.Quantity == 0 {
			p.AverageEntryPrice = 0
		}
	case oppositeSign:
		// Case 2: flip. Realize P&L on the entire old position, then
		// open a new position at the trade price with the residual
		// quantity, preserving the sign of signed_tq.
		if q > 0 {
			p.RealizedPnL += q * (price - avg)
		} else {
			p.RealizedPnL += absF(q) * (avg - price)
		}
		residual := absF(signedTQ) - absF(q)
		if signedTQ < 0 {
			residual = -residual
		}
		p.Quantity = residual
		p.AverageEntryPrice = price
	default:
		// Case 3: same sign or from flat — weighted average.
		if newQ != 0 {
			p.AverageEntryPrice = (absF(q)*avg + absF(signedTQ)*price) / absF(newQ)
		} else {
			p.AverageEntryPrice = 0
		}
		p.Quantity = newQ
	}

	p.UpdatePrice(price)
}

// UpdatePrice recomputes unrealized P&L and position value from a fresh
// reference price without touching realized P&L or quantity (§4.3
// "Mark-to-market").
func (p *Position) UpdatePrice(price float64) {
	cp := price
	p.CurrentPrice = &cp
	if p.Quantity == 0 {
		p.UnrealizedPnL = 0
		p.PositionValue = 0
		return
	}
	p.PositionValue = p.Quantity * price
	p.UnrealizedPnL = p.Quantity * (price - p.AverageEntryPrice)
}

// Clone returns an independent copy, used wherever a Position crosses a
// publication boundary so downstream mutation of the live record cannot
// leak backward.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	if p.CurrentPrice != nil {
		v := *p.CurrentPrice
		cp.CurrentPrice = &v
	}
	cp.OpenOrders = make(map[string]struct{}, len(p.OpenOrders))
	for k := range p.OpenOrders {
		cp.OpenOrders[k] = struct{}{}
	}
	cp.StrategyAllocations = make(map[string]float64, len(p.StrategyAllocations))
	for k, v := range p.StrategyAllocations {
		cp.StrategyAllocations[k] = v
	}
	return &cp
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
