// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the process-wide Prometheus collectors.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kodiak"

// Metrics bundles the collectors the subsystem updates. A single
// instance is created at startup and shared by reference.
type Metrics struct {
	RoutingDecisions  *prometheus.CounterVec
	RoutingCacheHits  prometheus.Counter
	Invocations       *prometheus.CounterVec
	InvocationLatency *prometheus.HistogramVec
	BreakerTrips      *prometheus.CounterVec
	StorageFallbacks  *prometheus.CounterVec
	VectorDegraded    prometheus.Gauge
	ReconciledTotal   prometheus.Counter
}

// New registers the collectors on the given registerer. Pass
// prometheus.DefaultRegisterer outside tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoutingDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by selected model and resource bucket.",
		}, []string{"model", "bucket"}),
		RoutingCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_cache_hits_total",
			Help:      "Routing decisions served from the TTL cache.",
		}),
		Invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Provider invocations by model and outcome.",
		}, []string{"model", "outcome"}),
		InvocationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "End-to-end invocation latency including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"model"}),
		BreakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by breaker and new state.",
		}, []string{"breaker", "state"}),
		StorageFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_fallbacks_total",
			Help:      "Operations served by the backup tier, by operation.",
		}, []string{"op"}),
		VectorDegraded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vector_store_degraded",
			Help:      "1 when the vector store runs on the brute-force fallback.",
		}),
		ReconciledTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_entities_total",
			Help:      "Entities replayed to their home tier by the reconciler.",
		}),
	}
}
