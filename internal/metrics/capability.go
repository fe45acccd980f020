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
	CapabilityCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumi_capability_calls_total",
		Help: "Capability invocations by capability, provider and outcome (ok|timeout|cancelled|error)",
	}, []string{"capability", "provider", "outcome"})

	CapabilityLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lumi_capability_latency_seconds",
		Help:    "Capability call latency",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 11),
	}, []string{"capability", "provider"})

	StreamClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lumi_event_stream_clients",
		Help: "Connected event stream clients by transport (sse|websocket|grpc|redis)",
	}, []string{"transport"})
)

// ObserveCapability records the outcome and latency of a capability call.
func ObserveCapability(capability, provider, outcome string, d time.Duration) {
	CapabilityCallsTotal.WithLabelValues(labelOrUnknown(capability), labelOrUnknown(provider), labelOrUnknown(outcome)).Inc()
	CapabilityLatency.WithLabelValues(labelOrUnknown(capability), labelOrUnknown(provider)).Observe(d.Seconds())
}

// AddStreamClients adjusts the connected stream gauge for a transport.
func AddStreamClients(transport string, delta int) {
	StreamClients.WithLabelValues(labelOrUnknown(transport)).Add(float64(delta))
}
