package types

import "time"

// Order is the authoritative record of a single order, owned exclusively
// by the order manager. See spec §3 for the invariants on filled
// quantity, average fill price, and status.
type Order struct {
	OrderID               string            `json:"order_id"`
	InstrumentID          string            `json:"instrument_id"`
	OrderType             OrderType         `json:"order_type"`
	Side                  OrderSide         `json:"side"`
	Quantity              float64           `json:"quantity"`
	Price                 *float64          `json:"price,omitempty"`
	StopPrice             *float64          `json:"stop_price,omitempty"`
	TimeInForce           TimeInForce       `json:"time_in_force"`
	Exchange              string            `json:"exchange,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	Status                OrderStatus       `json:"status"`
	FilledQuantity        float64           `json:"filled_quantity"`
	AverageFillPrice      *float64          `json:"average_fill_price,omitempty"`
	ClientOrderID         string            `json:"client_order_id,omitempty"`
	ParentOrderID         string            `json:"parent_order_id,omitempty"`
	StrategyID            string            `json:"strategy_id,omitempty"`
	Tags                  map[string]string `json:"tags,omitempty"`
	ExecutionInstructions map[string]any    `json:"execution_instructions,omitempty"`
	ExpiryDate            *time.Time        `json:"expiry_date,omitempty"`
}

// RemainingQuantity is the quantity still eligible to be filled.
func (o *Order) RemainingQuantity() float64 {
	return o.Quantity - o.FilledQuantity
}

// IsActive reports whether this order is still live per the state machine.
func (o *Order) IsActive() bool {
	return o.Status.IsActive()
}

// Clone returns a deep, independent copy suitable for an append-only
// history snapshot — the order table's live Order must never alias a
// history entry (§9 "Order history as append-only snapshots").
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	if o.Price != nil {
		p := *o.Price
		cp.Price = &p
	}
	if o.StopPrice != nil {
		p := *o.StopPrice
		cp.StopPrice = &p
	}
	if o.AverageFillPrice != nil {
		p := *o.AverageFillPrice
		cp.AverageFillPrice = &p
	}
	if o.ExpiryDate != nil {
		t := *o.ExpiryDate
		cp.ExpiryDate = &t
	}
	if o.Tags != nil {
		cp.Tags = make(map[string]string, len(o.Tags))
		for k, v := range o.Tags {
			cp.Tags[k] = v
		}
	}
	if o.ExecutionInstructions != nil {
		cp.ExecutionInstructions = make(map[string]any, len(o.ExecutionInstructions))
		for k, v := range o.ExecutionInstructions {
			cp.ExecutionInstructions[k] = v
		}
	}
	return &cp
}

// Trade is an immutable fill record, once emitted never mutated.
type Trade struct {
	TradeID            string    `json:"trade_id"`
	OrderID             string    `json:"order_id"`
	InstrumentID        string    `json:"instrument_id"`
	Quantity            float64   `json:"quantity"`
	Price               float64   `json:"price"`
	Side                OrderSide `json:"side"`
	Timestamp           time.Time `json:"timestamp"`
	Exchange            string    `json:"exchange,omitempty"`
	Commission          float64   `json:"commission"`
	CommissionCurrency  string    `json:"commission_currency,omitempty"`
}
