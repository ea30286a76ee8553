// Package metrics exposes the translator's Prometheus surface: the ambient
// observability a production fork of the teacher would carry even though
// spec.md's Non-goals exclude quorum/consistency machinery beyond best-of-N
// (metrics are not that machinery).
/*
 * Copyright (c) 2026, Project Authors. All rights reserved.
 */
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PendingTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "afr",
		Name:      "pending_total",
		Help:      "sum of the pending matrix across all children, by counter kind",
	}, []string{"kind"})

	TxnPhaseLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "afr",
		Name:      "txn_phase_seconds",
		Help:      "per-phase latency of a replicated transaction",
		Buckets:   prometheus.DefBuckets,
	}, []string{"phase"})

	TxnTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "afr",
		Name:      "txn_total",
		Help:      "completed transactions by final outcome",
	}, []string{"result"})

	HealBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "afr",
		Name:      "heal_bytes_total",
		Help:      "bytes streamed from source to sink during DATA self-heal",
	})

	HealSplitBrainTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "afr",
		Name:      "heal_split_brain_total",
		Help:      "split-brain classifications observed, by counter kind",
	}, []string{"kind"})

	ChildUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "afr",
		Name:      "child_up",
		Help:      "1 if the child is currently reachable, else 0",
	}, []string{"child"})
)

func init() {
	prometheus.MustRegister(
		PendingTotal, TxnPhaseLatency, TxnTotal,
		HealBytesTotal, HealSplitBrainTotal, ChildUp,
	)
}
