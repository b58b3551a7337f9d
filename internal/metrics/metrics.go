// Package metrics exposes the engine's Prometheus instrumentation,
// grounded on the sibling pi5-trading-system's internal/metrics/metrics.go,
// trimmed to the components this core actually has.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TradingMetrics holds every Prometheus metric the engine registers.
type TradingMetrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	EventsPublished  *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	EventQueueDepth  prometheus.Gauge
	HandlerLatencyMS *prometheus.GaugeVec

	OrdersSubmittedTotal *prometheus.CounterVec
	OrdersFilledTotal    *prometheus.CounterVec
	OrdersRejectedTotal  *prometheus.CounterVec
	ActiveOrders         prometheus.Gauge

	PositionCount  prometheus.Gauge
	RealizedPnL    prometheus.Gauge
	UnrealizedPnL  prometheus.Gauge
	NetExposure    prometheus.Gauge

	RiskRuleViolations *prometheus.CounterVec
	RiskActiveRules    prometheus.Gauge

	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// NewTradingMetrics creates and registers every engine metric under
// namespace (defaulting to "tradingcore").
func NewTradingMetrics(namespace string) *TradingMetrics {
	if namespace == "" {
		namespace = "tradingcore"
	}

	return &TradingMetrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		EventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of events dispatched to handlers by the bus",
			},
			[]string{"event_type"},
		),
		EventsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Total number of events dropped (queue full or throttled)",
			},
			[]string{"event_type"},
		),
		EventQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_queue_depth",
				Help:      "Current number of events waiting in the priority queue",
			},
		),
		HandlerLatencyMS: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_handler_latency_ms",
				Help:      "Average handler-set latency per event type, in milliseconds",
			},
			[]string{"event_type"},
		),

		OrdersSubmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_submitted_total",
				Help:      "Total number of orders submitted",
			},
			[]string{"instrument_id", "side", "order_type"},
		),
		OrdersFilledTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_filled_total",
				Help:      "Total number of orders fully filled",
			},
			[]string{"instrument_id", "side"},
		),
		OrdersRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_rejected_total",
				Help:      "Total number of orders rejected by the risk manager",
			},
			[]string{"instrument_id"},
		),
		ActiveOrders: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_orders",
				Help:      "Current number of active (non-terminal) orders",
			},
		),

		PositionCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "position_count",
				Help:      "Current number of tracked positions",
			},
		),
		RealizedPnL: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realized_pnl",
				Help:      "Total realized P&L across all positions",
			},
		),
		UnrealizedPnL: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "unrealized_pnl",
				Help:      "Total unrealized P&L across all positions",
			},
		),
		NetExposure: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "net_exposure",
				Help:      "Net position value across all positions",
			},
		),

		RiskRuleViolations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "risk_rule_violations_total",
				Help:      "Total number of risk rule violations",
			},
			[]string{"rule"},
		),
		RiskActiveRules: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "risk_active_rules",
				Help:      "Current number of enabled risk rules",
			},
		),

		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		CircuitBreakerTrips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker trips to open",
			},
			[]string{"name"},
		),
	}
}
