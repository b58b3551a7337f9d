package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// MarketDataPayload is the tagged-sum payload carried by a MarketData
// record; each variant corresponds to one MarketDataType (§9 "Dynamic
// data payloads" — model as a tagged sum rather than an untyped map).
type MarketDataPayload interface {
	DataType() MarketDataType
}

// QuotePayload is the §6 QUOTE shape.
type QuotePayload struct {
	Bid     float64  `json:"bid"`
	Ask     float64  `json:"ask"`
	BidSize *float64 `json:"bid_size,omitempty"`
	AskSize *float64 `json:"ask_size,omitempty"`
}

func (QuotePayload) DataType() MarketDataType { return MarketDataTypeQuote }

// TradePayload is the §6 TRADE shape.
type TradePayload struct {
	Price   float64   `json:"price"`
	Size    float64   `json:"size"`
	Side    OrderSide `json:"side"`
	TradeID string    `json:"trade_id"`
}

func (TradePayload) DataType() MarketDataType { return MarketDataTypeTrade }

// BookLevel is one side's entry in an OrderBookPayload.
type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBookPayload is the §6 ORDERBOOK shape: bids descending by price,
// asks ascending by price.
type OrderBookPayload struct {
	Bids []BookLevel `json:"bids"`
	Asks []BookLevel `json:"asks"`
}

func (OrderBookPayload) DataType() MarketDataType { return MarketDataTypeOrderBook }

// MidPrice returns the mid of the best bid/ask, and false if either side
// is empty — grounded on OrderBook.mid_price() in data_structures.py.
func (b OrderBookPayload) MidPrice() (float64, bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, false
	}
	return (b.Bids[0].Price + b.Asks[0].Price) / 2, true
}

// BarPayload is the §6 BAR (OHLCV) shape.
type BarPayload struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

func (BarPayload) DataType() MarketDataType { return MarketDataTypeBar }

// InstrumentInfoPayload carries static/reference instrument metadata.
// Spec §4.3's price-extraction rules skip this variant ("Else: skip").
type InstrumentInfoPayload struct {
	Fields map[string]any `json:"fields,omitempty"`
}

func (InstrumentInfoPayload) DataType() MarketDataType { return MarketDataTypeInstrumentInfo }

// MarketData is a single inbound market-data record, §3.
type MarketData struct {
	InstrumentID string            `json:"instrument_id"`
	Timestamp    time.Time         `json:"timestamp"`
	DataType     MarketDataType    `json:"data_type"`
	Exchange     string            `json:"exchange,omitempty"`
	Data         MarketDataPayload `json:"data"`
	Source       string            `json:"source"`
	SequenceID   *uint64           `json:"sequence_id,omitempty"`
}

// marketDataWire is MarketData's wire shape: identical field names and
// tags, but Data is a RawMessage so the data_type discriminator can be
// read before the concrete payload variant is decoded.
type marketDataWire struct {
	InstrumentID string          `json:"instrument_id"`
	Timestamp    time.Time       `json:"timestamp"`
	DataType     MarketDataType  `json:"data_type"`
	Exchange     string          `json:"exchange,omitempty"`
	Data         json.RawMessage `json:"data"`
	Source       string          `json:"source"`
	SequenceID   *uint64         `json:"sequence_id,omitempty"`
}

// MarshalJSON encodes the record with its concrete payload inline under
// "data" — the data_type field alongside it is the discriminator a
// reader uses on the way back in.
func (md MarketData) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(md.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal market data payload: %w", err)
	}
	return json.Marshal(marketDataWire{
		InstrumentID: md.InstrumentID,
		Timestamp:    md.Timestamp,
		DataType:     md.DataType,
		Exchange:     md.Exchange,
		Data:         data,
		Source:       md.Source,
		SequenceID:   md.SequenceID,
	})
}

// UnmarshalJSON decodes the record, selecting the concrete
// MarketDataPayload variant for Data from the data_type discriminator
// (§9 "tagged sum").
func (md *MarketData) UnmarshalJSON(raw []byte) error {
	var wire marketDataWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}

	var payload MarketDataPayload
	switch wire.DataType {
	case MarketDataTypeQuote:
		var p QuotePayload
		if err := json.Unmarshal(wire.Data, &p); err != nil {
			return fmt.Errorf("unmarshal quote payload: %w", err)
		}
		payload = p
	case MarketDataTypeTrade:
		var p TradePayload
		if err := json.Unmarshal(wire.Data, &p); err != nil {
			return fmt.Errorf("unmarshal trade payload: %w", err)
		}
		payload = p
	case MarketDataTypeOrderBook:
		var p OrderBookPayload
		if err := json.Unmarshal(wire.Data, &p); err != nil {
			return fmt.Errorf("unmarshal order book payload: %w", err)
		}
		payload = p
	case MarketDataTypeBar:
		var p BarPayload
		if err := json.Unmarshal(wire.Data, &p); err != nil {
			return fmt.Errorf("unmarshal bar payload: %w", err)
		}
		payload = p
	case MarketDataTypeInstrumentInfo:
		var p InstrumentInfoPayload
		if err := json.Unmarshal(wire.Data, &p); err != nil {
			return fmt.Errorf("unmarshal instrument info payload: %w", err)
		}
		payload = p
	default:
		return fmt.Errorf("unknown market data type %q", wire.DataType)
	}

	md.InstrumentID = wire.InstrumentID
	md.Timestamp = wire.Timestamp
	md.DataType = wire.DataType
	md.Exchange = wire.Exchange
	md.Data = payload
	md.Source = wire.Source
	md.SequenceID = wire.SequenceID
	return nil
}

// ExtractPrice implements the §4.3 "Market-data price extraction" rules,
// returning false when the payload carries no usable reference price.
func (md *MarketData) ExtractPrice() (float64, bool) {
	switch payload := md.Data.(type) {
	case QuotePayload:
		return (payload.Bid + payload.Ask) / 2, true
	case TradePayload:
		return payload.Price, true
	case OrderBookPayload:
		return payload.MidPrice()
	case BarPayload:
		return payload.Close, true
	default:
		return 0, false
	}
}

// StrategySignal is the STRATEGY_SIGNAL event payload: a trading signal
// produced by an external strategy component, carried by the bus but not
// acted on by any core component (the core has no strategy runtime).
type StrategySignal struct {
	StrategyID   string    `json:"strategy_id"`
	InstrumentID string    `json:"instrument_id"`
	Action       string    `json:"action"`
	Confidence   float64   `json:"confidence"`
	Price        *float64  `json:"price,omitempty"`
	Quantity     *float64  `json:"quantity,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// RiskCheckResult is the RISK_CHECK event payload, §6.
type RiskCheckResult struct {
	Passed    bool      `json:"passed"`
	OrderID   *string   `json:"order_id,omitempty"`
	Messages  []string  `json:"messages"`
	Timestamp time.Time `json:"timestamp"`
	CheckType string    `json:"check_type,omitempty"` // "order" | "periodic"
}

// SystemEventPayload is the SYSTEM_EVENT payload, §6: a `type` tag plus
// free-form type-specific fields.
type SystemEventPayload struct {
	Type   string         `json:"type"`
	Fields map[string]any `json:"fields,omitempty"`
}
