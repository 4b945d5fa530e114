// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"time"

	"github.com/cobaltcore-dev/reservoir/internal/monitoring"
	"github.com/prometheus/client_golang/prometheus"
)

// Collection of Prometheus metrics to monitor the placement pipeline.
type Monitor struct {
	// A histogram to measure how long constraint matching takes.
	matchRunTimer prometheus.Histogram
	// A histogram to observe the number of candidates per constraint.
	matchCandidatesObserver prometheus.Histogram
	// A histogram to measure how long claim building takes.
	buildRunTimer prometheus.Histogram
	// A histogram to observe the number of claims built per request.
	buildClaimsObserver prometheus.Histogram
	// A histogram to measure how long claim execution takes.
	executeRunTimer prometheus.Histogram
	// Counter for executed claims by resulting state.
	executeCounter *prometheus.CounterVec
}

// Create a new placement monitor and register the necessary Prometheus metrics.
func NewMonitor(registry *monitoring.Registry) *Monitor {
	matchRunTimer := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservoir_placement_match_duration_seconds",
		Help:    "Duration of constraint matching",
		Buckets: prometheus.DefBuckets,
	})
	matchCandidatesObserver := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservoir_placement_match_candidates",
		Help:    "Number of candidate providers returned per resource constraint",
		Buckets: prometheus.ExponentialBucketsRange(1, 1000, 10),
	})
	buildRunTimer := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservoir_placement_build_duration_seconds",
		Help:    "Duration of claim building",
		Buckets: prometheus.DefBuckets,
	})
	buildClaimsObserver := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservoir_placement_build_claims",
		Help:    "Number of claims built per request",
		Buckets: prometheus.ExponentialBucketsRange(1, 100, 8),
	})
	executeRunTimer := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservoir_placement_execute_duration_seconds",
		Help:    "Duration of claim execution",
		Buckets: prometheus.DefBuckets,
	})
	executeCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_placement_execute_total",
		Help: "Total number of executed claims by resulting state.",
	}, []string{"state"})
	registry.MustRegister(
		matchRunTimer,
		matchCandidatesObserver,
		buildRunTimer,
		buildClaimsObserver,
		executeRunTimer,
		executeCounter,
	)
	return &Monitor{
		matchRunTimer:           matchRunTimer,
		matchCandidatesObserver: matchCandidatesObserver,
		buildRunTimer:           buildRunTimer,
		buildClaimsObserver:     buildClaimsObserver,
		executeRunTimer:         executeRunTimer,
		executeCounter:          executeCounter,
	}
}

func (m *Monitor) observeMatch(d time.Duration, result *MatchResult) {
	m.matchRunTimer.Observe(d.Seconds())
	for _, candidates := range result.Candidates {
		m.matchCandidatesObserver.Observe(float64(len(candidates)))
	}
}

func (m *Monitor) observeBuild(d time.Duration, claims int) {
	m.buildRunTimer.Observe(d.Seconds())
	m.buildClaimsObserver.Observe(float64(claims))
}

func (m *Monitor) observeExecute(d time.Duration, state ClaimState) {
	m.executeRunTimer.Observe(d.Seconds())
	m.executeCounter.WithLabelValues(string(state)).Inc()
}
