// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package promstats exports the statistics of the fusion passes as Prometheus counters.
//
// Usage:
//
//	session := fusion.NewSession()
//	session.Stats = fusion.MultiStats{session.Stats, promstats.New(prometheus.DefaultRegisterer, "gomlx")}
package promstats

import (
	"github.com/gomlx/fusion/pkg/fusion"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels of every counter.
var Labels = []string{"session", "graph", "pass"}

// Recorder implements fusion.StatsRecorder with Prometheus counters.
type Recorder struct {
	Invocations, Matches, Effects *prometheus.CounterVec
}

var _ fusion.StatsRecorder = (*Recorder)(nil)

// New creates the counters and registers them with reg. If reg is nil, they are not registered.
//
// It panics if counters with the same names are already registered with reg.
func New(reg prometheus.Registerer, namespace string) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		Invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "pass_invocations_total",
			Help:      "Number of times a fusion pass ran on a graph.",
		}, Labels),
		Matches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "matches_total",
			Help:      "Number of subgraphs matched by a fusion pass.",
		}, Labels),
		Effects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "rewrites_total",
			Help:      "Number of matched subgraphs replaced by a fused node.",
		}, Labels),
	}
}

// Record implements fusion.StatsRecorder.
func (r *Recorder) Record(key fusion.StatsKey, matches, effects int) {
	values := []string{key.SessionID, key.GraphID, key.Pass}
	r.Invocations.WithLabelValues(values...).Inc()
	r.Matches.WithLabelValues(values...).Add(float64(matches))
	r.Effects.WithLabelValues(values...).Add(float64(effects))
}
