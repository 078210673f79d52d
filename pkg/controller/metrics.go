package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nstogner/solemate/pkg/domain"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solemate",
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Total number of turns by outcome",
		},
		[]string{"outcome"},
	)

	turnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "solemate",
			Subsystem: "agent",
			Name:      "turn_duration_seconds",
			Help:      "Turn duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	reasoningSteps = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "solemate",
			Subsystem: "agent",
			Name:      "reasoning_steps_total",
			Help:      "Total number of model calls, retries included",
		},
	)

	emptyRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "solemate",
			Subsystem: "agent",
			Name:      "empty_response_retries_total",
			Help:      "Total number of re-prompts after an empty model reply",
		},
	)

	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solemate",
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls by tool and status",
		},
		[]string{"tool", "status"},
	)

	confirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solemate",
			Subsystem: "agent",
			Name:      "confirmations_total",
			Help:      "Total number of answered confirmation prompts by decision",
		},
		[]string{"decision"},
	)
)

func recordInvocation(inv domain.Invocation) {
	status := string(inv.Status)
	if inv.IsError {
		status = "error"
	}
	toolCallsTotal.WithLabelValues(inv.Call.Name, status).Inc()
}
