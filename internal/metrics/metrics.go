// ABOUTME: Prometheus collectors for sessions and tool invocations.
// ABOUTME: All recording methods are nil-safe so metrics can be disabled.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coven_line"

// Rejection reasons for RecordRejected.
const (
	ReasonBusy      = "busy"
	ReasonDuplicate = "duplicate"
	ReasonInvalid   = "invalid"
	ReasonTimeout   = "completion_timeout"
	ReasonClosed    = "session_closed"
)

// Metrics holds the server's collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	sessionsOpen     prometheus.Gauge
	sessionsTotal    prometheus.Counter
	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	rejected         *prometheus.CounterVec
}

// New creates a fresh registry with process and Go runtime collectors plus
// the server's own collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Number of currently open SSE sessions.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Total number of SSE sessions opened.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Completed tool calls by tool and outcome.",
		}, []string{"tool", "status"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Time spent executing tool calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_rejected_total",
			Help:      "Tool calls that were not executed or whose caller was released early, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		m.sessionsOpen,
		m.sessionsTotal,
		m.toolCalls,
		m.toolCallDuration,
		m.rejected,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SessionOpened records a new session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpen.Inc()
	m.sessionsTotal.Inc()
}

// SessionClosed records a session going away.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsOpen.Dec()
}

// RecordToolCall records a finished tool call.
func (m *Metrics) RecordToolCall(tool string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if failed {
		status = "error"
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordRejected records a call refused or abandoned for the given reason.
func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}
