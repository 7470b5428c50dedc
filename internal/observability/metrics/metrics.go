// Package metrics exposes the navigator's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolCalls counts external tool attempts by tool and outcome.
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_tool_calls_total",
			Help: "External tool call attempts by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	ToolLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "navigator_tool_call_duration_seconds",
			Help:    "External tool call latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"tool"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_cache_lookups_total",
			Help: "Entity cache lookups by kind and result",
		},
		[]string{"kind", "result"},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_supervisor_transitions_total",
			Help: "Supervisor state transitions",
		},
		[]string{"from", "to"},
	)

	Guardrail = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_guardrail_events_total",
			Help: "Guardrail blocks and redactions by category",
		},
		[]string{"event"},
	)

	Turns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_turns_total",
			Help: "User turns handled by outcome",
		},
		[]string{"outcome"},
	)

	ActiveTurns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "navigator_active_turns",
			Help: "Turns currently being processed",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_http_requests_total",
			Help: "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "code"},
	)

	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "navigator_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"route", "method"},
	)
)

// ObserveGuardrail 记录一次输入筛查的拦截与按类别的脱敏次数。
func ObserveGuardrail(blocked bool, redactions map[string]int) {
	if blocked {
		Guardrail.WithLabelValues("blocked").Inc()
		return
	}
	for category, n := range redactions {
		Guardrail.WithLabelValues("redacted_" + category).Add(float64(n))
	}
}
