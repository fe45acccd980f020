// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var RelayPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lumi_relay_published_total",
	Help: "Events mirrored to Redis by outcome (ok|error)",
}, []string{"outcome"})

// IncRelayPublished counts one relay publish attempt.
func IncRelayPublished(outcome string) {
	RelayPublishedTotal.WithLabelValues(labelOrUnknown(outcome)).Inc()
}
