package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Database connection
	// ============================================
	DBConnectionPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_db_connection_pool_size",
		Help: "Database connection pool size",
	})

	DBConnectionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_db_connection_active",
		Help: "Number of active database connections",
	})

	DBConnectionIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_db_connection_idle",
		Help: "Number of idle database connections",
	})

	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	// ============================================
	// NATS connection and messages
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_nats_messages_received_total",
			Help: "Total number of NATS messages received",
		},
		[]string{"subject_kind"},
	)

	NATSMessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_nats_messages_failed_total",
			Help: "Total number of NATS messages failed to process",
		},
		[]string{"subject_kind", "error_kind"},
	)

	// ============================================
	// Positions and risk requests
	// ============================================
	PositionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_positions_opened_total",
		Help: "Total number of collateral positions opened",
	})

	RiskRequestsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_risk_requests_submitted_total",
			Help: "Total number of risk requests submitted",
		},
		[]string{"engine"},
	)

	RiskRequestsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_risk_requests_resolved_total",
			Help: "Total number of risk requests resolved, by outcome",
		},
		[]string{"outcome"},
	)

	RiskRequestsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_risk_requests_timed_out_total",
		Help: "Total number of risk requests that passed the timeout window unanswered",
	})

	OracleDeviations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_oracle_deviations_total",
			Help: "Oracle responses coerced to the floor ratio",
		},
		[]string{"reason"},
	)

	OracleDispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backend_oracle_dispatch_duration_seconds",
		Help:    "Oracle assessment dispatch duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	CircuitBreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_circuit_breaker_open",
		Help: "Oracle circuit breaker state (0=closed, 1=open, 0.5=half-open)",
	})

	TokensMinted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_tokens_minted_total",
		Help: "Stable tokens minted from finalized positions and inbound bridge messages",
	})

	CollateralPriceUSD = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backend_collateral_price_usd",
			Help: "Last feed price refreshed for a held collateral asset",
		},
		[]string{"asset"},
	)

	PriceRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_price_refresh_failures_total",
		Help: "Feed lookups that failed during a price refresh",
	})

	// ============================================
	// Emergency withdrawal automation
	// ============================================
	AutomationCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_automation_cycles_total",
			Help: "Scheduler cycles by result",
		},
		[]string{"result"},
	)

	AutomationWithdrawals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_automation_withdrawals_total",
			Help: "Emergency withdrawal attempts by result",
		},
		[]string{"result"},
	)

	AutomationCursor = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_automation_cursor",
		Help: "Current round-robin cursor",
	})

	// ============================================
	// Bridge
	// ============================================
	BridgeMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_bridge_messages_total",
			Help: "Bridge messages by direction and result",
		},
		[]string{"direction", "result"},
	)

	BridgePendingRelay = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_bridge_pending_relay",
		Help: "Outbound bridge messages waiting for relay",
	})

	// ============================================
	// WebSocket
	// ============================================
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_websocket_connections",
		Help: "Open WebSocket push connections",
	})
)
