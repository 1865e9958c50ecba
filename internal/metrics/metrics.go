package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Server metrics for production monitoring
var (
	// Session metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reportalin_mcp_active_sessions",
			Help: "Current number of active MCP sessions",
		},
	)

	SessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportalin_mcp_sessions_total",
			Help: "Total number of MCP sessions opened",
		},
	)

	// Request metrics
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reportalin_mcp_request_duration_seconds",
			Help:    "JSON-RPC request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method"},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportalin_mcp_requests_total",
			Help: "Total number of JSON-RPC requests",
		},
		[]string{"method", "outcome"},
	)

	// Tool metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportalin_mcp_tool_calls_total",
			Help: "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reportalin_mcp_tool_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"tool"},
	)

	SuppressedResults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportalin_mcp_suppressed_results_total",
			Help: "Total number of aggregates suppressed by k-anonymity",
		},
	)

	// Security metrics
	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportalin_mcp_auth_failures_total",
			Help: "Total number of rejected bearer tokens",
		},
	)

	RateLimitDenials = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportalin_mcp_rate_limit_denials_total",
			Help: "Total number of requests denied by the rate limiter",
		},
	)

	// Snapshot metrics
	SnapshotReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportalin_mcp_snapshot_reloads_total",
			Help: "Total number of dataset snapshot reloads",
		},
		[]string{"status"},
	)

	SnapshotTables = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reportalin_mcp_snapshot_tables",
			Help: "Number of tables in the active snapshot",
		},
	)
)
