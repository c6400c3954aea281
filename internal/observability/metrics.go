package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	tokenRefreshTotal    *prometheus.CounterVec
	tokenRefreshDuration prometheus.Histogram

	upstreamRequestsTotal   *prometheus.CounterVec
	upstreamRequestDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	engineCallTotal    *prometheus.CounterVec
	engineCallDuration *prometheus.HistogramVec
	agentTurnTotal     *prometheus.CounterVec
	agentTurnDuration  *prometheus.HistogramVec

	activeSessions prometheus.Gauge

	gatewayRequestsTotal *prometheus.CounterVec
	rateLimitedTotal     *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			tokenRefreshTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "panel_token_refresh_total",
					Help: "Total panel credential exchanges by status.",
				},
				[]string{"status"},
			),
			tokenRefreshDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "panel_token_refresh_duration_seconds",
					Help:    "Panel credential exchange duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			upstreamRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "panel_upstream_requests_total",
					Help: "Total proxied panel requests by operation and status class.",
				},
				[]string{"operation", "status"},
			),
			upstreamRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "panel_upstream_request_duration_seconds",
					Help:    "Proxied panel request duration in seconds by operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"operation"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total failed tool results by tool.",
				},
				[]string{"tool"},
			),
			engineCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engine_call_total",
					Help: "Total reasoning engine calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			engineCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "engine_call_duration_seconds",
					Help:    "Reasoning engine call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentTurnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_turn_total",
					Help: "Total agent turns by provider and outcome.",
				},
				[]string{"provider", "outcome"},
			),
			agentTurnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_turn_duration_seconds",
					Help:    "Agent turn duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current live assistant session count.",
				},
			),
			gatewayRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_requests_total",
					Help: "Total gateway HTTP requests by route and status code.",
				},
				[]string{"route", "code"},
			),
			rateLimitedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_rate_limited_total",
					Help: "Total gateway requests rejected by the rate limiter.",
				},
				[]string{"route"},
			),
		}

		prometheus.MustRegister(
			m.tokenRefreshTotal,
			m.tokenRefreshDuration,
			m.upstreamRequestsTotal,
			m.upstreamRequestDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.engineCallTotal,
			m.engineCallDuration,
			m.agentTurnTotal,
			m.agentTurnDuration,
			m.activeSessions,
			m.gatewayRequestsTotal,
			m.rateLimitedTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// StatusClass collapses an HTTP status into 2xx/4xx/5xx, or "transport" for 0.
func StatusClass(status int) string {
	if status <= 0 {
		return "transport"
	}
	return strconv.Itoa(status/100) + "xx"
}

func RecordTokenRefresh(success bool, duration time.Duration) {
	m := getMetrics()
	m.tokenRefreshTotal.WithLabelValues(statusLabel(success)).Inc()
	m.tokenRefreshDuration.Observe(duration.Seconds())
}

func RecordUpstreamRequest(operation string, status int, duration time.Duration) {
	m := getMetrics()
	m.upstreamRequestsTotal.WithLabelValues(operation, StatusClass(status)).Inc()
	m.upstreamRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordEngineCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.engineCallTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.engineCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordAgentTurn records a finished turn. outcome is one of
// "answered", "tool_failed", "engine_error".
func RecordAgentTurn(provider, outcome string, duration time.Duration) {
	m := getMetrics()
	m.agentTurnTotal.WithLabelValues(provider, outcome).Inc()
	m.agentTurnDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordGatewayRequest(route string, code int) {
	getMetrics().gatewayRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func RecordRateLimited(route string) {
	getMetrics().rateLimitedTotal.WithLabelValues(route).Inc()
}
