package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	providerRequestTotal    *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
	providerRetryTotal      *prometheus.CounterVec
	streamEventsTotal       *prometheus.CounterVec
	breakerState            *prometheus.GaugeVec
	breakerTripsTotal       *prometheus.CounterVec

	activeSessions      prometheus.Gauge
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec
	toolOutputTruncated   *prometheus.CounterVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentErrorsTotal *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			providerRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_request_total",
					Help: "Total provider requests by provider and status.",
				},
				[]string{"provider", "status"},
			),
			providerRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "provider_request_duration_seconds",
					Help:    "Provider round-trip duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			providerRetryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_retry_total",
					Help: "Total retried provider attempts by provider.",
				},
				[]string{"provider"},
			),
			streamEventsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stream_events_total",
					Help: "Total normalized stream events by provider and type.",
				},
				[]string{"provider", "type"},
			),
			breakerState: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "breaker_state",
					Help: "Circuit breaker state (0 closed, 1 open, 2 half-open).",
				},
				[]string{"provider"},
			),
			breakerTripsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "breaker_trips_total",
					Help: "Total circuit breaker open transitions by provider.",
				},
				[]string{"provider"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active session count.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Session load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
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
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			toolOutputTruncated: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_output_truncated_total",
					Help: "Total tool outputs truncated to the size cap by tool.",
				},
				[]string{"tool"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent runs by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_errors_total",
					Help: "Total agent errors by provider.",
				},
				[]string{"provider"},
			),
			tokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tokens_total",
					Help: "Total tokens consumed by provider and kind.",
				},
				[]string{"provider", "kind"},
			),
		}

		prometheus.MustRegister(
			m.providerRequestTotal,
			m.providerRequestDuration,
			m.providerRetryTotal,
			m.streamEventsTotal,
			m.breakerState,
			m.breakerTripsTotal,
			m.activeSessions,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.toolOutputTruncated,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentErrorsTotal,
			m.tokensTotal,
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

func RecordProviderRequest(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.providerRequestTotal.WithLabelValues(provider, status).Inc()
	m.providerRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordProviderRetry(provider string) {
	getMetrics().providerRetryTotal.WithLabelValues(provider).Inc()
}

func RecordStreamEvent(provider, eventType string) {
	getMetrics().streamEventsTotal.WithLabelValues(provider, eventType).Inc()
}

func SetBreakerState(provider string, state int) {
	getMetrics().breakerState.WithLabelValues(provider).Set(float64(state))
}

func RecordBreakerTrip(provider string) {
	getMetrics().breakerTripsTotal.WithLabelValues(provider).Inc()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordToolOutputTruncated(tool string) {
	getMetrics().toolOutputTruncated.WithLabelValues(tool).Inc()
}

func RecordAgentRun(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.agentRunTotal.WithLabelValues(provider, status).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if !success {
		m.agentErrorsTotal.WithLabelValues(provider).Inc()
	}
}

func RecordTokens(provider string, usage TokenUsage) {
	m := getMetrics()
	m.tokensTotal.WithLabelValues(provider, "prompt").Add(float64(usage.Prompt))
	m.tokensTotal.WithLabelValues(provider, "completion").Add(float64(usage.Completion))
	if usage.Reasoning > 0 {
		m.tokensTotal.WithLabelValues(provider, "reasoning").Add(float64(usage.Reasoning))
	}
}

// TokenUsage is a metrics-local view of token counts so this package does
// not depend on the llm types.
type TokenUsage struct {
	Prompt     int
	Completion int
	Reasoning  int
}
