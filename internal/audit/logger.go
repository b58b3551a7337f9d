// Package audit records a structured trail of engine-significant
// events. The sibling pi5-trading-system persists this trail to
// TimescaleDB; this core has no persistence layer (spec Non-goals), so
// the trail is carried entirely through structured zerolog output,
// grounded on original_source's utils/logging_utils.py JSON formatter.
package audit

import (
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies the kind of audit event.
type EventType string

const (
	EventTypeOrderCreated   EventType = "order_created"
	EventTypeOrderFilled    EventType = "order_filled"
	EventTypeOrderCancelled EventType = "order_cancelled"
	EventTypeOrderRejected  EventType = "order_rejected"
	EventTypeTradeExecuted  EventType = "trade_executed"
	EventTypeRiskViolation  EventType = "risk_violation"
	EventTypeSystemStart    EventType = "system_start"
	EventTypeSystemStop     EventType = "system_stop"
)

// Logger writes audit events as structured log lines, one event per
// line, at info level (warn for order rejections and risk violations),
// carrying the same fields the sibling stored as columns.
type Logger struct {
	logger zerolog.Logger
}

// New constructs an audit logger bound to the given base logger.
func New(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger.With().Str("log_type", "audit").Logger()}
}

// LogOrderCreated records an order submission.
func (a *Logger) LogOrderCreated(orderID, instrumentID, side, strategyID string, quantity float64, price *float64) {
	evt := a.logger.Info().
		Str("event_type", string(EventTypeOrderCreated)).
		Time("timestamp", time.Now().UTC()).
		Str("order_id", orderID).
		Str("instrument_id", instrumentID).
		Str("side", side).
		Str("strategy_id", strategyID).
		Float64("quantity", quantity)
	if price != nil {
		evt = evt.Float64("price", *price)
	}
	evt.Msg("order created")
}

// LogOrderFilled records a fill that completed an order.
func (a *Logger) LogOrderFilled(orderID, instrumentID, side string, quantity, avgPrice float64) {
	a.logger.Info().
		Str("event_type", string(EventTypeOrderFilled)).
		Time("timestamp", time.Now().UTC()).
		Str("order_id", orderID).
		Str("instrument_id", instrumentID).
		Str("side", side).
		Float64("quantity", quantity).
		Float64("average_fill_price", avgPrice).
		Msg("order filled")
}

// LogOrderCancelled records an order cancellation.
func (a *Logger) LogOrderCancelled(orderID, instrumentID string) {
	a.logger.Info().
		Str("event_type", string(EventTypeOrderCancelled)).
		Time("timestamp", time.Now().UTC()).
		Str("order_id", orderID).
		Str("instrument_id", instrumentID).
		Msg("order cancelled")
}

// LogOrderRejected records a risk-driven order rejection.
func (a *Logger) LogOrderRejected(orderID, instrumentID, reason string, messages []string) {
	a.logger.Warn().
		Str("event_type", string(EventTypeOrderRejected)).
		Time("timestamp", time.Now().UTC()).
		Str("order_id", orderID).
		Str("instrument_id", instrumentID).
		Str("reason", reason).
		Strs("messages", messages).
		Msg("order rejected")
}

// LogTradeExecuted records a trade applied against an order.
func (a *Logger) LogTradeExecuted(tradeID, orderID, instrumentID, side string, quantity, price float64) {
	a.logger.Info().
		Str("event_type", string(EventTypeTradeExecuted)).
		Time("timestamp", time.Now().UTC()).
		Str("trade_id", tradeID).
		Str("order_id", orderID).
		Str("instrument_id", instrumentID).
		Str("side", side).
		Float64("quantity", quantity).
		Float64("price", price).
		Msg("trade executed")
}

// LogRiskViolation records a risk rule violation, whether triggered by
// an order gate or a periodic sweep.
func (a *Logger) LogRiskViolation(checkType string, orderID *string, messages []string) {
	evt := a.logger.Warn().
		Str("event_type", string(EventTypeRiskViolation)).
		Time("timestamp", time.Now().UTC()).
		Str("check_type", checkType).
		Strs("messages", messages)
	if orderID != nil {
		evt = evt.Str("order_id", *orderID)
	}
	evt.Msg("risk violation")
}

// LogSystemStart records engine startup.
func (a *Logger) LogSystemStart(engineName, instanceID string) {
	a.logger.Info().
		Str("event_type", string(EventTypeSystemStart)).
		Time("timestamp", time.Now().UTC()).
		Str("engine_name", engineName).
		Str("instance_id", instanceID).
		Msg("engine started")
}

// LogSystemStop records engine shutdown.
func (a *Logger) LogSystemStop(engineName, instanceID string) {
	a.logger.Info().
		Str("event_type", string(EventTypeSystemStop)).
		Time("timestamp", time.Now().UTC()).
		Str("engine_name", engineName).
		Str("instance_id", instanceID).
		Msg("engine stopped")
}
