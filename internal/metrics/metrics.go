// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus instrumentation for the connection
// pool and the MCP request path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolIdle tracks idle connections per pool key.
	PoolIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "snowflake_mcp",
		Subsystem: "pool",
		Name:      "idle_connections",
		Help:      "Number of idle connections held per pool key.",
	}, []string{"pool_key"})

	// PoolCreated counts sessions dialed fresh because no idle one matched.
	PoolCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "snowflake_mcp",
		Subsystem: "pool",
		Name:      "connections_created_total",
		Help:      "Total number of Snowflake sessions created.",
	})

	// PoolReused counts acquisitions served from the idle pool.
	PoolReused = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "snowflake_mcp",
		Subsystem: "pool",
		Name:      "connections_reused_total",
		Help:      "Total number of acquisitions served by an idle connection.",
	})

	// PoolProbeFailures counts idle connections discarded by a failed
	// liveness probe.
	PoolProbeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "snowflake_mcp",
		Subsystem: "pool",
		Name:      "probe_failures_total",
		Help:      "Total number of idle connections that failed the liveness probe.",
	})

	// PoolDiscarded counts connections closed on release because the bucket
	// was at capacity.
	PoolDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "snowflake_mcp",
		Subsystem: "pool",
		Name:      "connections_discarded_total",
		Help:      "Total number of connections closed because a pool bucket was full.",
	})

	// AcquireDuration measures how long Acquire takes, including dial and
	// session init for fresh connections.
	AcquireDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "snowflake_mcp",
		Subsystem: "pool",
		Name:      "acquire_duration_seconds",
		Help:      "Time to acquire a Snowflake connection.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	// ToolCalls counts tool invocations by tool name and outcome.
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snowflake_mcp",
		Subsystem: "server",
		Name:      "tool_calls_total",
		Help:      "Total number of tool calls by name and status.",
	}, []string{"tool", "status"})

	// TokenRefreshes counts OAuth token refresh attempts by outcome.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snowflake_mcp",
		Subsystem: "oauth",
		Name:      "token_refreshes_total",
		Help:      "Total number of OAuth token refresh attempts by status.",
	}, []string{"status"})
)
