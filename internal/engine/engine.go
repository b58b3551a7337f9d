// Package engine wires the event bus, order manager, position manager,
// and risk manager into a single running instance, owning its
// lifecycle, heartbeat, and status surface, grounded on
// original_source's engine/trading_engine.py.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pi5labs/tradingcore/internal/audit"
	"github.com/pi5labs/tradingcore/internal/circuitbreaker"
	"github.com/pi5labs/tradingcore/internal/config"
	"github.com/pi5labs/tradingcore/internal/core/events"
	"github.com/pi5labs/tradingcore/internal/core/orders"
	"github.com/pi5labs/tradingcore/internal/core/positions"
	"github.com/pi5labs/tradingcore/internal/core/risk"
	"github.com/pi5labs/tradingcore/internal/metrics"
	"github.com/pi5labs/tradingcore/pkg/types"
)

// StrategyInfo is the metadata recorded for a registered strategy; the
// engine itself generates no signals (strategy/signal production is an
// external-producer concern, spec Non-goals) but tracks who is live.
type StrategyInfo struct {
	Info         map[string]any
	RegisteredAt time.Time
}

// Stats mirrors the source's running counters, incremented from the
// engine's own ORDER_UPDATE/TRADE_UPDATE handlers.
type Stats struct {
	EventsProcessed int64
	OrdersSubmitted int64
	TradesExecuted  int64
}

// Engine is the composition root: it owns every core component and the
// goroutines that keep it alive.
type Engine struct {
	cfg     *config.Config
	logger  zerolog.Logger
	audit   *audit.Logger
	metrics *metrics.TradingMetrics

	Bus       *events.EventBus
	Orders    *orders.Manager
	Positions *positions.Manager
	Risk      *risk.Manager

	mu            sync.Mutex
	running       bool
	startupTime   time.Time
	shutdownTime  time.Time
	lastHeartbeat time.Time

	dataSources map[string]struct{}
	strategies  map[string]StrategyInfo

	stats Stats

	prevProcessed    map[events.EventType]int64
	prevDroppedTotal int64
	prevBreakerOpen  map[string]bool

	cancel    context.CancelFunc
	runDoneCh chan struct{}
}

// New constructs an engine and every component it owns, but does not
// start it.
func New(cfg *config.Config, logger zerolog.Logger, tradingMetrics *metrics.TradingMetrics) *Engine {
	bus := events.NewEventBus(cfg.EventQueueSize, logger)
	orderManager := orders.New(bus, logger)
	positionManager := positions.New(bus, logger)
	riskManager := risk.New(bus, positionManager, cfg.Risk, logger)

	e := &Engine{
		cfg:             cfg,
		logger:          logger,
		audit:           audit.New(logger),
		metrics:         tradingMetrics,
		Bus:             bus,
		Orders:          orderManager,
		Positions:       positionManager,
		Risk:            riskManager,
		dataSources:     make(map[string]struct{}),
		strategies:      make(map[string]StrategyInfo),
		prevProcessed:   make(map[events.EventType]int64),
		prevBreakerOpen: make(map[string]bool),
	}

	bus.AddHandler(events.EventTypeSystemEvent, e.handleSystemEvent)
	bus.AddHandler(events.EventTypeOrderUpdate, e.handleOrderUpdate)
	bus.AddHandler(events.EventTypeTradeUpdate, e.handleTradeUpdate)
	riskManager.SetViolationObserver(e)

	return e
}

// ObserveRiskViolation implements risk.ViolationObserver: it records
// every rejected order or failed periodic sweep to the audit trail and
// the risk-violation counter.
func (e *Engine) ObserveRiskViolation(ruleOrCheckType string, orderID *string, messages []string) {
	e.audit.LogRiskViolation(ruleOrCheckType, orderID, messages)
	if e.metrics != nil {
		e.metrics.RiskRuleViolations.WithLabelValues(ruleOrCheckType).Inc()
	}
}

// Start brings up the event bus, the risk manager's periodic sweep, and
// the heartbeat loop, then publishes a startup SYSTEM_EVENT.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logger.Warn().Msg("engine already running")
		return
	}
	e.running = true
	e.startupTime = time.Now().UTC()
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.runDoneCh = make(chan struct{})
	e.mu.Unlock()

	go func() {
		defer close(e.runDoneCh)
		e.Bus.Start(runCtx)
	}()
	e.Risk.StartPeriodicChecks(runCtx)

	heartbeatInterval := e.cfg.HeartbeatIntervalSecs
	if heartbeatInterval <= 0 {
		heartbeatInterval = 5
	}
	go e.heartbeatLoop(runCtx, time.Duration(heartbeatInterval)*time.Second)

	e.audit.LogSystemStart(e.cfg.EngineName, e.cfg.InstanceID)
	e.Bus.Publish(events.NewSystemEvent("trading_engine", &types.SystemEventPayload{
		Type: "startup",
		Fields: map[string]any{
			"engine_name": e.cfg.EngineName,
			"instance_id": e.cfg.InstanceID,
			"timestamp":   e.startupTime,
		},
	}))
	e.logger.Info().Str("engine_name", e.cfg.EngineName).Msg("trading engine started")
}

// Stop publishes a shutdown SYSTEM_EVENT, halts the risk manager's
// sweep, and stops the event bus last — mirroring the source's explicit
// ordering: shutdown is announced on the bus before the bus itself
// stops processing.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		e.logger.Warn().Msg("engine already stopped")
		return
	}
	e.running = false
	e.shutdownTime = time.Now().UTC()
	uptime := e.shutdownTime.Sub(e.startupTime).Seconds()
	stats := e.stats
	e.mu.Unlock()

	e.Bus.Publish(events.NewSystemEvent("trading_engine", &types.SystemEventPayload{
		Type: "shutdown",
		Fields: map[string]any{
			"engine_name":     e.cfg.EngineName,
			"instance_id":     e.cfg.InstanceID,
			"timestamp":       e.shutdownTime,
			"uptime_seconds":  uptime,
			"events_processed": stats.EventsProcessed,
			"orders_submitted": stats.OrdersSubmitted,
			"trades_executed":  stats.TradesExecuted,
		},
	}))

	e.Risk.StopPeriodicChecks()
	e.cancel()
	<-e.runDoneCh

	e.audit.LogSystemStop(e.cfg.EngineName, e.cfg.InstanceID)
	e.logger.Info().Str("engine_name", e.cfg.EngineName).Msg("trading engine stopped")
}

func (e *Engine) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		e.sendHeartbeat()
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// sendHeartbeat publishes a low-priority SYSTEM_EVENT carrying a
// lightweight liveness snapshot (§12 "Supplemented features").
func (e *Engine) sendHeartbeat() {
	e.mu.Lock()
	e.lastHeartbeat = time.Now().UTC()
	uptime := 0.0
	if !e.startupTime.IsZero() {
		uptime = e.lastHeartbeat.Sub(e.startupTime).Seconds()
	}
	e.mu.Unlock()

	orderStats := e.Orders.GetOrderStatistics()
	positionStats := e.Positions.GetPositionStatistics()

	e.Bus.Publish(events.NewSystemEvent("trading_engine", &types.SystemEventPayload{
		Type: "heartbeat",
		Fields: map[string]any{
			"engine_name":     e.cfg.EngineName,
			"instance_id":     e.cfg.InstanceID,
			"timestamp":       e.lastHeartbeat,
			"uptime_seconds":  uptime,
			"active_orders":   orderStats.ActiveOrders,
			"positions_count": positionStats.PositionCount,
		},
	}, events.WithPriority(types.HeartbeatPriority)))
}

// publishStatus publishes a comprehensive status SYSTEM_EVENT in
// response to a status_request.
func (e *Engine) publishStatus() {
	status := e.GetEngineStatus()
	e.Bus.Publish(events.NewSystemEvent("trading_engine", &types.SystemEventPayload{
		Type:   "status",
		Fields: map[string]any{"status": status},
	}))
}

// RegisterDataSource records a market data source as live and announces
// it on the bus (§12).
func (e *Engine) RegisterDataSource(sourceID string) {
	e.mu.Lock()
	e.dataSources[sourceID] = struct{}{}
	e.mu.Unlock()

	e.logger.Info().Str("source_id", sourceID).Msg("registered data source")
	e.Bus.Publish(events.NewSystemEvent("trading_engine", &types.SystemEventPayload{
		Type: "data_source_registered",
		Fields: map[string]any{
			"source_id": sourceID,
			"timestamp": time.Now().UTC(),
		},
	}))
}

// RegisterStrategy records a strategy as live and announces it on the
// bus (§12).
func (e *Engine) RegisterStrategy(strategyID string, info map[string]any) {
	now := time.Now().UTC()
	e.mu.Lock()
	e.strategies[strategyID] = StrategyInfo{Info: info, RegisteredAt: now}
	e.mu.Unlock()

	e.logger.Info().Str("strategy_id", strategyID).Msg("registered strategy")
	e.Bus.Publish(events.NewSystemEvent("trading_engine", &types.SystemEventPayload{
		Type: "strategy_registered",
		Fields: map[string]any{
			"strategy_id":   strategyID,
			"strategy_info": info,
			"timestamp":     now,
		},
	}))
}

// ProcessMarketData publishes a MARKET_DATA event carrying data,
// preserving its sequence_id for the bus's reordering logic.
func (e *Engine) ProcessMarketData(data *types.MarketData) {
	opts := []events.Option{}
	if data.SequenceID != nil {
		opts = append(opts, events.WithSequenceID(*data.SequenceID))
	}
	e.Bus.Publish(events.NewMarketDataEvent(data.Source, data, opts...))
}

// SubmitOrder forwards to the order manager.
func (e *Engine) SubmitOrder(order *types.Order, callback orders.Callback) string {
	return e.Orders.SubmitOrder(order, callback)
}

// CancelOrder forwards to the order manager.
func (e *Engine) CancelOrder(orderID string) bool {
	return e.Orders.CancelOrder(orderID)
}

func (e *Engine) handleSystemEvent(ctx context.Context, event events.Event) error {
	evt, ok := event.(*events.SystemEvent)
	if !ok || evt.Payload == nil {
		return nil
	}
	switch evt.Payload.Type {
	case "shutdown":
		e.logger.Info().Msg("received shutdown event, initiating shutdown")
		go e.Stop()
	case "heartbeat_request":
		e.sendHeartbeat()
	case "status_request":
		e.publishStatus()
	}
	return nil
}

func (e *Engine) handleOrderUpdate(ctx context.Context, event events.Event) error {
	evt, ok := event.(*events.OrderUpdateEvent)
	if !ok || evt.Order == nil {
		return nil
	}
	e.mu.Lock()
	e.stats.EventsProcessed++
	if evt.Order.Status == types.OrderStatusPendingNew {
		e.stats.OrdersSubmitted++
	}
	e.mu.Unlock()

	switch evt.Order.Status {
	case types.OrderStatusPendingNew:
		e.audit.LogOrderCreated(evt.Order.OrderID, evt.Order.InstrumentID, string(evt.Order.Side), evt.Order.StrategyID, evt.Order.Quantity, evt.Order.Price)
	case types.OrderStatusFilled:
		if evt.Order.AverageFillPrice != nil {
			e.audit.LogOrderFilled(evt.Order.OrderID, evt.Order.InstrumentID, string(evt.Order.Side), evt.Order.FilledQuantity, *evt.Order.AverageFillPrice)
		}
	case types.OrderStatusCancelled:
		e.audit.LogOrderCancelled(evt.Order.OrderID, evt.Order.InstrumentID)
	case types.OrderStatusRejected:
		e.audit.LogOrderRejected(evt.Order.OrderID, evt.Order.InstrumentID, "risk_check", nil)
	}

	if e.metrics != nil {
		switch evt.Order.Status {
		case types.OrderStatusPendingNew:
			e.metrics.OrdersSubmittedTotal.WithLabelValues(evt.Order.InstrumentID, string(evt.Order.Side), string(evt.Order.OrderType)).Inc()
		case types.OrderStatusFilled:
			e.metrics.OrdersFilledTotal.WithLabelValues(evt.Order.InstrumentID, string(evt.Order.Side)).Inc()
		case types.OrderStatusRejected:
			e.metrics.OrdersRejectedTotal.WithLabelValues(evt.Order.InstrumentID).Inc()
		}
		e.metrics.ActiveOrders.Set(float64(e.Orders.GetOrderStatistics().ActiveOrders))
	}
	return nil
}

func (e *Engine) handleTradeUpdate(ctx context.Context, event events.Event) error {
	evt, ok := event.(*events.TradeUpdateEvent)
	if !ok || evt.Trade == nil {
		return nil
	}
	e.mu.Lock()
	e.stats.EventsProcessed++
	e.stats.TradesExecuted++
	e.mu.Unlock()

	e.audit.LogTradeExecuted(evt.Trade.TradeID, evt.Trade.OrderID, evt.Trade.InstrumentID, string(evt.Trade.Side), evt.Trade.Quantity, evt.Trade.Price)
	return nil
}

// Status is the §12 get_engine_status() shape.
type Status struct {
	EngineName    string
	InstanceID    string
	Running       bool
	StartupTime   time.Time
	CurrentTime   time.Time
	UptimeSeconds float64
	LastHeartbeat time.Time

	OrderStats    orders.OrderStatistics
	PositionStats positions.PositionStatistics
	RiskRules     []risk.RuleStatus
	RiskSummary   risk.Summary
	EventMetrics  events.Metrics

	Stats       Stats
	DataSources []string
	Strategies  map[string]StrategyInfo
}

// GetEngineStatus assembles a comprehensive snapshot of every
// component's current state.
func (e *Engine) GetEngineStatus() Status {
	now := time.Now().UTC()
	e.mu.Lock()
	uptime := 0.0
	if !e.startupTime.IsZero() {
		uptime = now.Sub(e.startupTime).Seconds()
	}
	dataSources := make([]string, 0, len(e.dataSources))
	for s := range e.dataSources {
		dataSources = append(dataSources, s)
	}
	strategies := make(map[string]StrategyInfo, len(e.strategies))
	for k, v := range e.strategies {
		strategies[k] = v
	}
	status := Status{
		EngineName:    e.cfg.EngineName,
		InstanceID:    e.cfg.InstanceID,
		Running:       e.running,
		StartupTime:   e.startupTime,
		CurrentTime:   now,
		UptimeSeconds: uptime,
		LastHeartbeat: e.lastHeartbeat,
		Stats:         e.stats,
		DataSources:   dataSources,
		Strategies:    strategies,
	}
	e.mu.Unlock()

	status.OrderStats = e.Orders.GetOrderStatistics()
	status.PositionStats = e.Positions.GetPositionStatistics()
	status.RiskRules = e.Risk.GetRuleStatus()
	status.RiskSummary = e.Risk.GetRiskSummaryFrom(e.Positions.GetAllPositions())
	status.EventMetrics = e.Bus.Metrics()

	if e.metrics != nil {
		e.metrics.PositionCount.Set(float64(status.PositionStats.PositionCount))
		e.metrics.RealizedPnL.Set(status.PositionStats.RealizedPnL)
		e.metrics.UnrealizedPnL.Set(status.PositionStats.UnrealizedPnL)
		e.metrics.NetExposure.Set(status.RiskSummary.NetExposure)
		e.metrics.RiskActiveRules.Set(float64(status.RiskSummary.ActiveRules))
		e.metrics.EventQueueDepth.Set(float64(status.EventMetrics.QueueDepth))
		e.syncEventMetrics(status.EventMetrics)
		e.syncBreakerMetrics()
	}
	return status
}

// syncEventMetrics reconciles the bus's cumulative per-type counters
// into Prometheus counters, which only move forward via Add(delta).
func (e *Engine) syncEventMetrics(m events.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for t, tm := range m.PerType {
		delta := tm.EventsProcessed - e.prevProcessed[t]
		if delta > 0 {
			e.metrics.EventsPublished.WithLabelValues(string(t)).Add(float64(delta))
		}
		e.prevProcessed[t] = tm.EventsProcessed
		e.metrics.HandlerLatencyMS.WithLabelValues(string(t)).Set(tm.AvgLatencyMS)
	}
	if dropDelta := m.DroppedEvents - e.prevDroppedTotal; dropDelta > 0 {
		e.metrics.EventsDropped.WithLabelValues("all").Add(float64(dropDelta))
	}
	e.prevDroppedTotal = m.DroppedEvents
}

// syncBreakerMetrics mirrors every per-handler circuit breaker's state
// into a gauge and counts transitions into StateOpen as trips.
func (e *Engine) syncBreakerMetrics() {
	states := e.Bus.BreakerStates()
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, state := range states {
		e.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
		isOpen := state == circuitbreaker.StateOpen
		if isOpen && !e.prevBreakerOpen[name] {
			e.metrics.CircuitBreakerTrips.WithLabelValues(name).Inc()
		}
		e.prevBreakerOpen[name] = isOpen
	}
}
