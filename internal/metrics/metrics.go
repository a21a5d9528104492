// Package metrics exposes Prometheus counters/gauges for qorvexd: actions
// executed, sessions active, event-buffer drops, watcher ticks, and agent
// crash-recoveries, served over the daemon's /metrics HTTP listener
// alongside the per-session Unix sockets.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests served by the metrics/
	// health listener.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qorvex_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qorvex_http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActionsTotal counts executed actions by type and outcome.
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qorvex_actions_total",
			Help: "Total number of actions executed",
		},
		[]string{"action_type", "success"},
	)

	// ActionDuration tracks action execution latency.
	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qorvex_action_duration_seconds",
			Help:    "Action execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action_type"},
	)

	// ActiveSessions tracks currently active automation sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qorvex_active_sessions",
			Help: "Number of active automation sessions",
		},
	)

	// SessionDuration tracks how long sessions run.
	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qorvex_session_duration_seconds",
			Help:    "Session duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	// EventBufferDrops tracks broadcast events dropped by a lagging
	// subscriber's bounded mailbox.
	EventBufferDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qorvex_event_buffer_drops_total",
			Help: "Total number of events dropped due to buffer overflow",
		},
		[]string{"session_id"},
	)

	// WatcherTicks counts screen watcher sampling attempts by outcome.
	WatcherTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qorvex_watcher_ticks_total",
			Help: "Total number of screen watcher sampling ticks",
		},
		[]string{"session_id", "outcome"},
	)

	// AgentRecoveries counts successful crash-recovery attempts by the
	// agent-backed driver.
	AgentRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qorvex_agent_recoveries_total",
			Help: "Total number of successful agent crash-recovery attempts",
		},
	)

	// IPCConnections tracks currently open IPC client connections.
	IPCConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qorvex_ipc_connections",
			Help: "Number of open IPC client connections",
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware creates an HTTP middleware that records request metrics for
// the daemon's auxiliary HTTP listener (/metrics, /health).
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath normalizes URL paths to avoid high cardinality.
func normalizePath(path string) string {
	switch path {
	case "/health", "/ready", "/metrics":
		return path
	default:
		return "other"
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAction records one executed action's outcome and duration.
func RecordAction(actionType string, success bool, durationSeconds float64) {
	ActionsTotal.WithLabelValues(actionType, boolLabel(success)).Inc()
	ActionDuration.WithLabelValues(actionType).Observe(durationSeconds)
}

// RecordSessionStart increments the active-session gauge.
func RecordSessionStart() {
	ActiveSessions.Inc()
}

// RecordSessionEnd decrements the active-session gauge and records the
// session's total duration.
func RecordSessionEnd(durationSeconds float64) {
	ActiveSessions.Dec()
	SessionDuration.Observe(durationSeconds)
}

// RecordEventDrop records one broadcast event dropped for sessionID.
func RecordEventDrop(sessionID string) {
	EventBufferDrops.WithLabelValues(sessionID).Inc()
}

// RecordWatcherTick records one watcher sampling tick's outcome
// ("changed", "unchanged", or "error").
func RecordWatcherTick(sessionID, outcome string) {
	WatcherTicks.WithLabelValues(sessionID, outcome).Inc()
}

// RecordAgentRecovery records one successful crash-recovery attempt.
func RecordAgentRecovery() {
	AgentRecoveries.Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
