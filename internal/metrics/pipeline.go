// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lumi_sessions_active",
		Help: "Number of pipeline sessions that have not reached a terminal state",
	})

	SessionsTerminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumi_sessions_terminal_total",
		Help: "Total number of sessions by terminal state and error kind",
	}, []string{"state", "kind"})

	SessionStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lumi_session_stage_duration_seconds",
		Help:    "Time spent in each pipeline stage",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"stage"})

	SessionFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumi_session_fallbacks_total",
		Help: "Total number of non-fatal stage failures by fallback (degraded|warning)",
	}, []string{"fallback"})

	ControllerRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumi_controller_rejections_total",
		Help: "Operation controller calls rejected synchronously by operation and kind",
	}, []string{"op", "kind"})

	TaskRegistryEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lumi_task_registry_evictions_total",
		Help: "Total number of terminal tasks evicted from the bounded registry",
	})
)

// AddSessionsActive adjusts the live session gauge.
func AddSessionsActive(delta int) {
	SessionsActive.Add(float64(delta))
}

// ObserveStage records the duration of a completed stage.
func ObserveStage(stage string, d time.Duration) {
	SessionStageDuration.WithLabelValues(labelOrUnknown(stage)).Observe(d.Seconds())
}

// RecordTerminal records a session reaching a terminal state.
func RecordTerminal(state, kind string) {
	if kind == "" {
		kind = "none"
	}
	SessionsTerminalTotal.WithLabelValues(labelOrUnknown(state), kind).Inc()
}

// IncFallback records a degraded (LLM) or warning (TTS) continuation.
func IncFallback(fallback string) {
	SessionFallbacksTotal.WithLabelValues(labelOrUnknown(fallback)).Inc()
}

// IncControllerRejection records a synchronous controller error.
func IncControllerRejection(op, kind string) {
	ControllerRejectionsTotal.WithLabelValues(labelOrUnknown(op), labelOrUnknown(kind)).Inc()
}

// IncRegistryEviction records a registry eviction.
func IncRegistryEviction() {
	TaskRegistryEvictionsTotal.Inc()
}
