// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the scheduler's Prometheus collectors. It implements
// prometheus.Collector so it can be registered directly, the way
// intel-cri-resource-manager's policy and cache packages register their own
// Describe/Collect pairs rather than using bare package-level metrics.
type Metrics struct {
	s *Scheduler

	idleCores     prometheus.Gauge
	amtWanted     *prometheus.GaugeVec
	amtGranted    *prometheus.GaugeVec
	ignoreNextIdle prometheus.Gauge
	tickDuration  prometheus.Histogram
}

func newMetrics(s *Scheduler) *Metrics {
	return &Metrics{
		s: s,
		idleCores: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ksched",
			Name:      "idle_cores",
			Help:      "Number of physical cores currently in the idle pool.",
		}),
		amtWanted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ksched",
			Name:      "proc_amt_wanted",
			Help:      "Published core desire per MCP.",
		}, []string{"proc_id"}),
		amtGranted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ksched",
			Name:      "proc_amt_granted",
			Help:      "Cores currently granted per MCP.",
		}, []string{"proc_id"}),
		ignoreNextIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ksched",
			Name:      "ignore_next_idle_total",
			Help:      "Sum of ignore_next_idle across all pcores, a proxy for outstanding preemption races.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ksched",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent inside one Schedule() pass.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.idleCores.Describe(ch)
	m.amtWanted.Describe(ch)
	m.amtGranted.Describe(ch)
	m.ignoreNextIdle.Describe(ch)
	m.tickDuration.Describe(ch)
}

// Collect implements prometheus.Collector. It takes the scheduler lock
// (unlike Scheduler.SchedDiag, which reads without it), since every gauge
// here reads live scheduler state rather than values updated incrementally
// as events occur.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	m.idleCores.Set(float64(s.idle.len()))

	m.amtWanted.Reset()
	m.amtGranted.Reset()
	var ignoreSum uint32
	for i := range s.pcores {
		ignoreSum += s.pcores[i].ignoreNextIdle
	}
	m.ignoreNextIdle.Set(float64(ignoreSum))

	s.lists.eachSafe(AllMCPs, func(p *Process) {
		label := prometheus.Labels{"proc_id": procIDLabel(p.ID)}
		m.amtWanted.With(label).Set(float64(p.amtWanted))
		m.amtGranted.With(label).Set(float64(p.amtGranted))
	})

	m.idleCores.Collect(ch)
	m.amtWanted.Collect(ch)
	m.amtGranted.Collect(ch)
	m.ignoreNextIdle.Collect(ch)
	m.tickDuration.Collect(ch)
}

// ObserveTick records how long one Schedule() pass took. Called by
// Scheduler.RunTickLoop around each pass, not by Schedule itself, so direct
// callers of Schedule make no timing calls.
func (m *Metrics) ObserveTick(seconds float64) {
	m.tickDuration.Observe(seconds)
}

func procIDLabel(id uint64) string {
	return strconv.FormatUint(id, 10)
}
