package risk

import (
	"fmt"
	"time"
)

// Context carries the order (if any) being evaluated and the event
// type tag ("order" | "periodic") a rule's Check runs under, §4.4.
type Context struct {
	Order     *OrderView
	EventType string
}

// OrderView is the subset of an order a risk rule needs, kept separate
// from pkg/types.Order to avoid an import cycle back into orders.
type OrderView struct {
	InstrumentID string
	StrategyID   string
	Side         string // "BUY" | "SELL"
	Quantity     float64
	Price        *float64
}

// Rule is the risk-rule abstraction of §4.4: a name, an enabled flag, a
// violation counter, a last-check timestamp, and a Check operation.
type Rule interface {
	Name() string
	Enabled() bool
	SetEnabled(bool)
	Violations() int
	LastCheckTime() time.Time
	Check(rm *Manager, ctx Context) (bool, string)
}

// base implements the bookkeeping every concrete rule shares; Go has no
// inheritance, so concrete rules embed it and call touch() at the top
// of their own Check.
type base struct {
	name       string
	enabled    bool
	violations int
	lastCheck  time.Time
}

func (b *base) Name() string             { return b.name }
func (b *base) Enabled() bool            { return b.enabled }
func (b *base) SetEnabled(enabled bool)  { b.enabled = enabled }
func (b *base) Violations() int          { return b.violations }
func (b *base) LastCheckTime() time.Time { return b.lastCheck }
func (b *base) touch()                   { b.lastCheck = time.Now().UTC() }

// PositionLimitRule enforces a maximum absolute position size on one
// instrument.
type PositionLimitRule struct {
	base
	InstrumentID string
	MaxPosition  float64
}

// NewPositionLimitRule constructs a position-limit rule, defaulting its
// name to match the source's "Position limit for {instrument}".
func NewPositionLimitRule(instrumentID string, maxPosition float64) *PositionLimitRule {
	return &PositionLimitRule{
		base:         base{name: fmt.Sprintf("Position limit for %s", instrumentID), enabled: true},
		InstrumentID: instrumentID,
		MaxPosition:  maxPosition,
	}
}

func (r *PositionLimitRule) Check(rm *Manager, ctx Context) (bool, string) {
	r.touch()

	if ctx.Order != nil && ctx.Order.InstrumentID != r.InstrumentID {
		return true, "rule not applicable to this instrument"
	}

	position := rm.positionManager.GetPosition(r.InstrumentID)
	currentPosition := absF(position.Quantity)

	if ctx.Order != nil {
		var newPosition float64
		if ctx.Order.Side == "BUY" {
			newPosition = absF(position.Quantity + ctx.Order.Quantity)
		} else {
			newPosition = absF(position.Quantity - ctx.Order.Quantity)
		}
		if newPosition > r.MaxPosition {
			r.violations++
			return false, fmt.Sprintf("order would exceed position limit of %g for %s", r.MaxPosition, r.InstrumentID)
		}
		return true, "position within limits"
	}

	if currentPosition > r.MaxPosition {
		r.violations++
		return false, fmt.Sprintf("current position of %g exceeds limit of %g for %s", currentPosition, r.MaxPosition, r.InstrumentID)
	}
	return true, "position within limits"
}

// DrawdownLimitRule enforces a maximum drawdown off a running peak of
// realized+unrealized P&L. WindowDays is accepted and stored but, per
// the §9 open question, deliberately never consulted — the peak tracker
// is unbounded in time, matching the source's behavior exactly.
type DrawdownLimitRule struct {
	base
	MaxDrawdownPct float64
	WindowDays     int
	peak           *float64
}

// NewDrawdownLimitRule constructs a drawdown rule.
func NewDrawdownLimitRule(maxDrawdownPct float64, windowDays int) *DrawdownLimitRule {
	return &DrawdownLimitRule{
		base:           base{name: fmt.Sprintf("Drawdown limit of %g%%", maxDrawdownPct), enabled: true},
		MaxDrawdownPct: maxDrawdownPct,
		WindowDays:     windowDays,
	}
}

func (r *DrawdownLimitRule) Check(rm *Manager, ctx Context) (bool, string) {
	r.touch()

	summary := rm.positionManager.GetPnLSummary()
	current := summary.RealizedPnL + summary.UnrealizedPnL

	if r.peak == nil || current > *r.peak {
		peak := current
		r.peak = &peak
	}

	if *r.peak <= 0 {
		return true, "no peak value established yet"
	}

	drawdownPct := (*r.peak - current) / absF(*r.peak) * 100
	if drawdownPct > r.MaxDrawdownPct {
		r.violations++
		return false, fmt.Sprintf("current drawdown of %.2f%% exceeds limit of %g%%", drawdownPct, r.MaxDrawdownPct)
	}
	return true, fmt.Sprintf("current drawdown of %.2f%% within limits", drawdownPct)
}

// ExposureByStrategyRule limits total notional exposure for one
// strategy across all instruments it is allocated to.
type ExposureByStrategyRule struct {
	base
	StrategyID  string
	MaxExposure float64
}

// NewExposureByStrategyRule constructs a strategy-exposure rule.
func NewExposureByStrategyRule(strategyID string, maxExposure float64) *ExposureByStrategyRule {
	return &ExposureByStrategyRule{
		base:        base{name: fmt.Sprintf("Exposure limit for strategy %s", strategyID), enabled: true},
		StrategyID:  strategyID,
		MaxExposure: maxExposure,
	}
}

func (r *ExposureByStrategyRule) Check(rm *Manager, ctx Context) (bool, string) {
	r.touch()

	if ctx.Order != nil && ctx.Order.StrategyID != r.StrategyID {
		return true, "rule not applicable to this strategy"
	}

	allocations := rm.positionManager.GetStrategyExposure(r.StrategyID)
	var totalExposure float64
	for instrumentID, quantity := range allocations {
		position := rm.positionManager.GetPosition(instrumentID)
		if position.CurrentPrice != nil && *position.CurrentPrice != 0 {
			totalExposure += absF(quantity * *position.CurrentPrice)
		}
	}

	if ctx.Order != nil && ctx.Order.StrategyID == r.StrategyID {
		price := 0.0
		if ctx.Order.Price != nil {
			price = *ctx.Order.Price
		} else {
			position := rm.positionManager.GetPosition(ctx.Order.InstrumentID)
			if position.CurrentPrice != nil {
				price = *position.CurrentPrice
			}
		}
		newExposure := totalExposure + ctx.Order.Quantity*price
		if newExposure > r.MaxExposure {
			r.violations++
			return false, fmt.Sprintf("order would exceed exposure limit of %g for strategy %s", r.MaxExposure, r.StrategyID)
		}
		return true, fmt.Sprintf("strategy exposure of %g within limits", totalExposure)
	}

	if totalExposure > r.MaxExposure {
		r.violations++
		return false, fmt.Sprintf("current exposure of %g exceeds limit of %g for strategy %s", totalExposure, r.MaxExposure, r.StrategyID)
	}
	return true, fmt.Sprintf("strategy exposure of %g within limits", totalExposure)
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
