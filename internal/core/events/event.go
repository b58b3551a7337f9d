// Package events implements the trading core's event bus: a priority
// queue with per-source sequence reordering, per-type throttling, and
// sequential handler dispatch. Grounded on original_source's
// engine/event_processor.py, with the teacher's constructor-injected
// zerolog.Logger and typed-event idiom from internal/core/events.
package events

import (
	"time"

	"github.com/pi5labs/tradingcore/pkg/types"
)

// EventType re-exports the domain enum so callers of this package don't
// need to import pkg/types just to name an event type.
type EventType = types.EventType

const (
	EventTypeMarketData     = types.EventTypeMarketData
	EventTypeOrderUpdate    = types.EventTypeOrderUpdate
	EventTypeTradeUpdate    = types.EventTypeTradeUpdate
	EventTypePositionUpdate = types.EventTypePositionUpdate
	EventTypeStrategySignal = types.EventTypeStrategySignal
	EventTypeRiskCheck      = types.EventTypeRiskCheck
	EventTypeSystemEvent    = types.EventTypeSystemEvent
)

// Event is the immutable envelope every bus message implements: a tagged
// event type, a timestamp, a producer-assigned source/target/sequence,
// and a dispatch priority. See spec §3.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	Source() string
	Target() *string
	SequenceID() *uint64
	Priority() int
}

// BaseEvent carries the envelope fields common to every concrete event,
// mirroring the teacher's BaseEvent embedding idiom.
type BaseEvent struct {
	EvType       EventType
	EvTimestamp  time.Time
	EvSource     string
	EvTarget     *string
	EvSequenceID *uint64
	EvPriority   int
}

func (e BaseEvent) Type() EventType        { return e.EvType }
func (e BaseEvent) Timestamp() time.Time   { return e.EvTimestamp }
func (e BaseEvent) Source() string         { return e.EvSource }
func (e BaseEvent) Target() *string        { return e.EvTarget }
func (e BaseEvent) SequenceID() *uint64    { return e.EvSequenceID }
func (e BaseEvent) Priority() int          { return e.EvPriority }

// Option configures the optional envelope fields on a New*Event call.
type Option func(*BaseEvent)

// WithTarget sets the optional event target.
func WithTarget(target string) Option {
	return func(e *BaseEvent) { e.EvTarget = &target }
}

// WithSequenceID sets the per-source monotonic sequence id.
func WithSequenceID(seq uint64) Option {
	return func(e *BaseEvent) { e.EvSequenceID = &seq }
}

// WithPriority overrides the default priority (1).
func WithPriority(priority int) Option {
	return func(e *BaseEvent) { e.EvPriority = priority }
}

func newBase(evType EventType, source string, opts []Option) BaseEvent {
	b := BaseEvent{
		EvType:      evType,
		EvTimestamp: time.Now().UTC(),
		EvSource:    source,
		EvPriority:  types.DefaultPriority,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// MarketDataEvent carries a MarketData record.
type MarketDataEvent struct {
	BaseEvent
	Data *types.MarketData
}

func NewMarketDataEvent(source string, data *types.MarketData, opts ...Option) *MarketDataEvent {
	return &MarketDataEvent{BaseEvent: newBase(EventTypeMarketData, source, opts), Data: data}
}

// OrderUpdateEvent carries an Order snapshot.
type OrderUpdateEvent struct {
	BaseEvent
	Order *types.Order
}

func NewOrderUpdateEvent(source string, order *types.Order, opts ...Option) *OrderUpdateEvent {
	return &OrderUpdateEvent{BaseEvent: newBase(EventTypeOrderUpdate, source, opts), Order: order}
}

// TradeUpdateEvent carries a Trade record.
type TradeUpdateEvent struct {
	BaseEvent
	Trade *types.Trade
}

func NewTradeUpdateEvent(source string, trade *types.Trade, opts ...Option) *TradeUpdateEvent {
	return &TradeUpdateEvent{BaseEvent: newBase(EventTypeTradeUpdate, source, opts), Trade: trade}
}

// PositionUpdateEvent carries a Position snapshot.
type PositionUpdateEvent struct {
	BaseEvent
	Position *types.Position
}

func NewPositionUpdateEvent(source string, position *types.Position, opts ...Option) *PositionUpdateEvent {
	return &PositionUpdateEvent{BaseEvent: newBase(EventTypePositionUpdate, source, opts), Position: position}
}

// StrategySignalEvent carries a strategy-originated signal.
type StrategySignalEvent struct {
	BaseEvent
	Signal *types.StrategySignal
}

func NewStrategySignalEvent(source string, signal *types.StrategySignal, opts ...Option) *StrategySignalEvent {
	return &StrategySignalEvent{BaseEvent: newBase(EventTypeStrategySignal, source, opts), Signal: signal}
}

// RiskCheckEvent carries a risk-rule evaluation result.
type RiskCheckEvent struct {
	BaseEvent
	Result *types.RiskCheckResult
}

func NewRiskCheckEvent(source string, result *types.RiskCheckResult, opts ...Option) *RiskCheckEvent {
	return &RiskCheckEvent{BaseEvent: newBase(EventTypeRiskCheck, source, opts), Result: result}
}

// SystemEvent carries a free-form, type-tagged system notification.
type SystemEvent struct {
	BaseEvent
	Payload *types.SystemEventPayload
}

func NewSystemEvent(source string, payload *types.SystemEventPayload, opts ...Option) *SystemEvent {
	return &SystemEvent{BaseEvent: newBase(EventTypeSystemEvent, source, opts), Payload: payload}
}
