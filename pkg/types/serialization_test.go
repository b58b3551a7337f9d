package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestOrder_SerializeThenDeserializeIsIdentity(t *testing.T) {
	price := 101.5
	original := &Order{
		OrderID:        "o1",
		InstrumentID:   "AAPL",
		OrderType:      OrderTypeLimit,
		Side:           OrderSideBuy,
		Quantity:       10,
		Price:          &price,
		TimeInForce:    TimeInForceGTC,
		CreatedAt:      time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2026, 7, 31, 12, 0, 1, 0, time.UTC),
		Status:         OrderStatusPendingNew,
		FilledQuantity: 0,
		Tags:           map[string]string{"k": "v"},
	}

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Order
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.OrderID != original.OrderID || decoded.Status != original.Status {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
	if decoded.Price == nil || *decoded.Price != *original.Price {
		t.Fatalf("price did not round trip: got %v", decoded.Price)
	}
	if !decoded.CreatedAt.Equal(original.CreatedAt) {
		t.Fatalf("created_at did not round trip: got %v, want %v", decoded.CreatedAt, original.CreatedAt)
	}
	if decoded.Tags["k"] != "v" {
		t.Fatalf("tags did not round trip: got %v", decoded.Tags)
	}
}

func TestTrade_SerializeThenDeserializeIsIdentity(t *testing.T) {
	original := &Trade{
		TradeID:      "t1",
		OrderID:      "o1",
		InstrumentID: "AAPL",
		Quantity:     5,
		Price:        100.25,
		Side:         OrderSideSell,
		Timestamp:    time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		Commission:   0.5,
	}

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Trade
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.TradeID != original.TradeID || decoded.Price != original.Price || decoded.Quantity != original.Quantity {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Fatalf("timestamp did not round trip: got %v, want %v", decoded.Timestamp, original.Timestamp)
	}
}

func TestPosition_SerializeThenDeserializeIsIdentity(t *testing.T) {
	price := 105.0
	original := NewPosition("AAPL")
	original.ApplyTrade(OrderSideBuy, 10, 100)
	original.UpdatePrice(price)
	original.OpenOrders["o1"] = struct{}{}
	original.OpenOrders["o2"] = struct{}{}
	original.StrategyAllocations["strat-a"] = 6
	original.Timestamp = time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Position
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Quantity != original.Quantity || decoded.AverageEntryPrice != original.AverageEntryPrice {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
	if len(decoded.OpenOrders) != 2 {
		t.Fatalf("open_orders did not round trip: got %v, want 2 entries", decoded.OpenOrders)
	}
	if _, ok := decoded.OpenOrders["o1"]; !ok {
		t.Fatal("expected open_orders to contain o1 after round trip")
	}
	if decoded.StrategyAllocations["strat-a"] != 6 {
		t.Fatalf("strategy allocations did not round trip: got %v", decoded.StrategyAllocations)
	}
}

func TestMarketData_SerializeThenDeserializeIsIdentity_Quote(t *testing.T) {
	bidSize := 100.0
	original := &MarketData{
		InstrumentID: "AAPL",
		Timestamp:    time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		DataType:     MarketDataTypeQuote,
		Data:         QuotePayload{Bid: 99.5, Ask: 99.6, BidSize: &bidSize},
		Source:       "feed1",
	}

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded MarketData
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	quote, ok := decoded.Data.(QuotePayload)
	if !ok {
		t.Fatalf("expected decoded payload to be QuotePayload, got %T", decoded.Data)
	}
	if quote.Bid != 99.5 || quote.Ask != 99.6 {
		t.Fatalf("quote payload did not round trip: got %+v", quote)
	}
	if quote.BidSize == nil || *quote.BidSize != bidSize {
		t.Fatalf("quote bid size did not round trip: got %v", quote.BidSize)
	}
	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Fatalf("timestamp did not round trip: got %v, want %v", decoded.Timestamp, original.Timestamp)
	}
}

func TestMarketData_SerializeThenDeserializeIsIdentity_Trade(t *testing.T) {
	original := &MarketData{
		InstrumentID: "AAPL",
		Timestamp:    time.Now().UTC(),
		DataType:     MarketDataTypeTrade,
		Data:         TradePayload{Price: 100, Size: 3, Side: OrderSideBuy, TradeID: "ext-1"},
		Source:       "feed1",
	}

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded MarketData
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	trade, ok := decoded.Data.(TradePayload)
	if !ok {
		t.Fatalf("expected decoded payload to be TradePayload, got %T", decoded.Data)
	}
	if trade.Price != 100 || trade.Size != 3 || trade.TradeID != "ext-1" {
		t.Fatalf("trade payload did not round trip: got %+v", trade)
	}
}

func TestMarketData_SerializeThenDeserializeIsIdentity_OrderBook(t *testing.T) {
	original := &MarketData{
		InstrumentID: "AAPL",
		Timestamp:    time.Now().UTC(),
		DataType:     MarketDataTypeOrderBook,
		Data: OrderBookPayload{
			Bids: []BookLevel{{Price: 99, Size: 10}},
			Asks: []BookLevel{{Price: 100, Size: 5}},
		},
		Source: "feed1",
	}

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded MarketData
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	book, ok := decoded.Data.(OrderBookPayload)
	if !ok {
		t.Fatalf("expected decoded payload to be OrderBookPayload, got %T", decoded.Data)
	}
	mid, ok := book.MidPrice()
	if !ok || !closeEnough(mid, 99.5) {
		t.Fatalf("order book payload did not round trip: mid = %v, ok = %v", mid, ok)
	}
}

func TestMarketData_UnknownDataTypeFailsToDeserialize(t *testing.T) {
	raw := []byte(`{"instrument_id":"AAPL","timestamp":"2026-07-31T12:00:00Z","data_type":"BOGUS","data":{},"source":"feed1"}`)
	var decoded MarketData
	if err := json.Unmarshal(raw, &decoded); err == nil {
		t.Fatal("expected an error decoding an unrecognized data_type")
	}
}
