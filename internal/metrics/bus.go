// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumi_bus_published_total",
		Help: "Total number of events published on the in-process bus",
	}, []string{"topic"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumi_bus_dropped_total",
		Help: "Total number of events dropped for a subscriber by topic and reason",
	}, []string{"topic", "reason"})

	BusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lumi_bus_subscribers",
		Help: "Number of live bus subscriptions (including handlers)",
	})

	BusHandlerPanicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumi_bus_handler_panics_total",
		Help: "Total number of recovered panics inside bus handlers",
	}, []string{"topic"})
)

// IncBusPublished records a published event.
func IncBusPublished(topic string) {
	BusPublishedTotal.WithLabelValues(labelOrUnknown(topic)).Inc()
}

// IncBusDrop records a dropped event because a subscriber buffer was full.
func IncBusDrop(topic string) {
	IncBusDropReason(topic, "full")
}

// IncBusDropReason records a dropped event with a concrete reason.
func IncBusDropReason(topic, reason string) {
	BusDroppedTotal.WithLabelValues(labelOrUnknown(topic), labelOrUnknown(reason)).Inc()
}

// AddBusSubscribers adjusts the live subscription gauge.
func AddBusSubscribers(delta int) {
	BusSubscribers.Add(float64(delta))
}

// IncBusHandlerPanic records a recovered handler panic.
func IncBusHandlerPanic(topic string) {
	BusHandlerPanicsTotal.WithLabelValues(labelOrUnknown(topic)).Inc()
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
