// Package risk implements the risk manager: a registry of rules that
// gates new orders and runs a periodic portfolio sweep, grounded on
// original_source's engine/risk_manager.py.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pi5labs/tradingcore/internal/config"
	"github.com/pi5labs/tradingcore/internal/core/events"
	"github.com/pi5labs/tradingcore/internal/core/positions"
	"github.com/pi5labs/tradingcore/pkg/types"
)

// ViolationObserver is notified whenever a rule rejects an order or a
// periodic sweep fails, letting callers (the engine, metrics) react
// without this package depending on them.
type ViolationObserver interface {
	ObserveRiskViolation(ruleOrCheckType string, orderID *string, messages []string)
}

// defaultCheckIntervalSeconds matches the source's hardcoded periodic
// sweep cadence (not configurable, per risk_manager.py).
const defaultCheckIntervalSeconds = 60

// PositionManagerView is the read-only subset of positions.Manager the
// risk rules consult (RM holds a one-way reference to PM, §9).
type PositionManagerView interface {
	GetPosition(instrumentID string) *types.Position
	GetPnLSummary() positions.PnLSummary
	GetStrategyExposure(strategyID string) map[string]float64
}

// Manager evaluates registered rules against orders and portfolio
// state, gating new orders and running a periodic sweep (§4.4).
type Manager struct {
	logger   zerolog.Logger
	eventBus *events.EventBus

	positionManager PositionManagerView

	mu    sync.Mutex
	rules []Rule

	checkIntervalSeconds int
	stopCh               chan struct{}
	doneCh               chan struct{}

	observer ViolationObserver
}

// SetViolationObserver registers a callback invoked on every rule
// violation (order rejection or failed periodic sweep). Optional; nil
// by default.
func (rm *Manager) SetViolationObserver(observer ViolationObserver) {
	rm.observer = observer
}

// New constructs a risk manager, builds its rule set from cfg, and
// registers its ORDER_UPDATE handler on the bus.
func New(eventBus *events.EventBus, positionManager PositionManagerView, cfg config.RiskLimitsConfig, logger zerolog.Logger) *Manager {
	rm := &Manager{
		logger:               logger,
		eventBus:             eventBus,
		positionManager:      positionManager,
		checkIntervalSeconds: defaultCheckIntervalSeconds,
	}
	rm.initializeRulesFromConfig(cfg)
	eventBus.AddHandler(events.EventTypeOrderUpdate, rm.handleOrderUpdate)
	return rm
}

func (rm *Manager) initializeRulesFromConfig(cfg config.RiskLimitsConfig) {
	for instrument, limit := range cfg.PositionLimits {
		rm.AddRule(NewPositionLimitRule(instrument, limit))
	}
	if cfg.MaxDrawdownPct != nil {
		windowDays := cfg.DrawdownWindowDays
		if windowDays == 0 {
			windowDays = 1
		}
		rm.AddRule(NewDrawdownLimitRule(*cfg.MaxDrawdownPct, windowDays))
	}
	for strategy, limit := range cfg.StrategyExposureLimits {
		rm.AddRule(NewExposureByStrategyRule(strategy, limit))
	}
}

// AddRule registers a rule, appended after any already-registered rules
// (evaluation runs in registration order, §4.4).
func (rm *Manager) AddRule(rule Rule) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.rules = append(rm.rules, rule)
}

// RemoveRule removes the first rule with the given name, reporting
// whether one was found.
func (rm *Manager) RemoveRule(name string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for i, r := range rm.rules {
		if r.Name() == name {
			rm.rules = append(rm.rules[:i], rm.rules[i+1:]...)
			return true
		}
	}
	return false
}

// CheckRules evaluates every enabled rule in registration order,
// isolating per-rule panics/exceptions as failed checks, and returns
// whether all passed plus the accumulated failure messages.
func (rm *Manager) CheckRules(ctx Context) (bool, []string) {
	rm.mu.Lock()
	rules := append([]Rule(nil), rm.rules...)
	rm.mu.Unlock()

	allPassed := true
	var messages []string
	for _, rule := range rules {
		if !rule.Enabled() {
			continue
		}
		passed, message := rm.safeCheck(rule, ctx)
		if !passed {
			allPassed = false
			messages = append(messages, fmt.Sprintf("%s: %s", rule.Name(), message))
		}
	}
	return allPassed, messages
}

func (rm *Manager) safeCheck(rule Rule, ctx Context) (passed bool, message string) {
	defer func() {
		if r := recover(); r != nil {
			passed = false
			message = fmt.Sprintf("error during check - %v", r)
			rm.logger.Error().Interface("panic", r).Str("rule", rule.Name()).Msg("risk rule check panicked")
		}
	}()
	return rule.Check(rm, ctx)
}

// handleOrderUpdate is the ORDER_UPDATE bus handler: gates orders in
// PENDING_NEW status, rejecting them on rule failure (§4.4
// "Order gating").
func (rm *Manager) handleOrderUpdate(ctx context.Context, event events.Event) error {
	evt, ok := event.(*events.OrderUpdateEvent)
	if !ok || evt.Order == nil {
		return nil
	}
	order := evt.Order
	if order.Status != types.OrderStatusPendingNew {
		return nil
	}

	orderCtx := Context{
		Order: &OrderView{
			InstrumentID: order.InstrumentID,
			StrategyID:   order.StrategyID,
			Side:         string(order.Side),
			Quantity:     order.Quantity,
			Price:        order.Price,
		},
		EventType: "order",
	}
	passed, messages := rm.CheckRules(orderCtx)
	if passed {
		return nil
	}

	order.Status = types.OrderStatusRejected
	order.UpdatedAt = time.Now().UTC()
	rm.logger.Warn().Str("order_id", order.OrderID).Strs("messages", messages).
		Msg("order rejected by risk check")

	rm.eventBus.Publish(events.NewOrderUpdateEvent("risk_manager", order))

	orderID := order.OrderID
	rm.eventBus.Publish(events.NewRiskCheckEvent("risk_manager", &types.RiskCheckResult{
		Passed:    false,
		OrderID:   &orderID,
		Messages:  messages,
		Timestamp: time.Now().UTC(),
		CheckType: "order",
	}))
	if rm.observer != nil {
		rm.observer.ObserveRiskViolation("order", &orderID, messages)
	}
	return nil
}

// StartPeriodicChecks launches the background sweep that evaluates all
// rules with event_type="periodic" every checkIntervalSeconds, until ctx
// is cancelled or StopPeriodicChecks is called.
func (rm *Manager) StartPeriodicChecks(ctx context.Context) {
	rm.stopCh = make(chan struct{})
	rm.doneCh = make(chan struct{})
	go rm.periodicCheckLoop(ctx)
}

// StopPeriodicChecks cancels the periodic sweep and waits for it to
// exit (§5 "Periodic tasks are cancelled and awaited").
func (rm *Manager) StopPeriodicChecks() {
	if rm.stopCh == nil {
		return
	}
	close(rm.stopCh)
	<-rm.doneCh
}

func (rm *Manager) periodicCheckLoop(ctx context.Context) {
	defer close(rm.doneCh)
	ticker := time.NewTicker(time.Duration(rm.checkIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		rm.performPeriodicCheck()
		select {
		case <-ticker.C:
		case <-rm.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (rm *Manager) performPeriodicCheck() {
	passed, messages := rm.CheckRules(Context{EventType: "periodic"})
	if passed {
		return
	}
	rm.logger.Warn().Strs("messages", messages).Msg("periodic risk check failed")
	rm.eventBus.Publish(events.NewRiskCheckEvent("risk_manager", &types.RiskCheckResult{
		Passed:    false,
		Messages:  messages,
		Timestamp: time.Now().UTC(),
		CheckType: "periodic",
	}))
	if rm.observer != nil {
		rm.observer.ObserveRiskViolation("periodic", nil, messages)
	}
}

// RuleStatus is the §4.4 get_rule_status() shape.
type RuleStatus struct {
	Name       string
	Enabled    bool
	Violations int
	LastCheck  time.Time
	Type       string
}

// GetRuleStatus reports the status of every registered rule.
func (rm *Manager) GetRuleStatus() []RuleStatus {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	result := make([]RuleStatus, 0, len(rm.rules))
	for _, r := range rm.rules {
		result = append(result, RuleStatus{
			Name:       r.Name(),
			Enabled:    r.Enabled(),
			Violations: r.Violations(),
			LastCheck:  r.LastCheckTime(),
			Type:       fmt.Sprintf("%T", r),
		})
	}
	return result
}

// Summary is the §4.4 get_risk_summary() shape.
type Summary struct {
	GrossExposure  float64
	NetExposure    float64
	LongExposure   float64
	ShortExposure  float64
	LongShortRatio float64
	PnLVolatility  float64
	RuleViolations int
	ActiveRules    int
	Timestamp      time.Time
}

// GetRiskSummaryFrom aggregates exposure and volatility metrics across
// allPositions plus rule-violation counters.
func (rm *Manager) GetRiskSummaryFrom(allPositions []*types.Position) Summary {
	summary := Summary{Timestamp: time.Now().UTC()}
	var unrealized []float64
	for _, p := range allPositions {
		summary.GrossExposure += absF(p.PositionValue)
		summary.NetExposure += p.PositionValue
		if p.Quantity > 0 {
			summary.LongExposure += p.PositionValue
		} else if p.Quantity < 0 {
			summary.ShortExposure += p.PositionValue
		}
		unrealized = append(unrealized, p.UnrealizedPnL)
	}
	if summary.ShortExposure != 0 {
		summary.LongShortRatio = summary.LongExposure / absF(summary.ShortExposure)
	} else {
		summary.LongShortRatio = -1 // no short exposure: ratio undefined
	}
	summary.PnLVolatility = stddev(unrealized)

	rm.mu.Lock()
	for _, r := range rm.rules {
		summary.RuleViolations += r.Violations()
		if r.Enabled() {
			summary.ActiveRules++
		}
	}
	rm.mu.Unlock()
	return summary
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}
