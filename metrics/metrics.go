// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics exports the statistics of linear solves to prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "quda"
	subsystem = "solver"
)

// Recorder records the outcome of solves labelled by solver kind.
type Recorder struct {
	solves     *prometheus.CounterVec
	iterations *prometheus.CounterVec
	gflops     *prometheus.CounterVec
	seconds    *prometheus.HistogramVec
	trueRes    *prometheus.HistogramVec
}

// NewRecorder returns a Recorder whose collectors are registered with reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		solves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "solves_total",
			Help:      "Solves by solver kind and status",
		}, []string{"solver", "status"}),
		iterations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "iterations_total",
			Help:      "Iterations performed by solver kind",
		}, []string{"solver"}),
		gflops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "gflops_total",
			Help:      "Floating-point operations executed, in units of 10^9",
		}, []string{"solver"}),
		seconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "duration_seconds",
			Help:      "Duration of the compute phase of a solve",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 12),
		}, []string{"solver"}),
		trueRes: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "true_residual",
			Help:      "Relative true residual achieved",
			Buckets:   prometheus.ExponentialBuckets(1e-16, 10, 17),
		}, []string{"solver"}),
	}
}

// Solve is the statistics of one solve.
type Solve struct {
	Iter    int
	Secs    float64
	Gflops  float64
	TrueRes float64
	Err     error
}

// Observe records s for solver kind.
func (r *Recorder) Observe(kind string, s Solve) {
	if r == nil {
		return
	}
	status := "ok"
	if s.Err != nil {
		status = "error"
	}
	r.solves.WithLabelValues(kind, status).Inc()
	if s.Err != nil {
		return
	}
	r.iterations.WithLabelValues(kind).Add(float64(s.Iter))
	r.gflops.WithLabelValues(kind).Add(s.Gflops)
	r.seconds.WithLabelValues(kind).Observe(s.Secs)
	r.trueRes.WithLabelValues(kind).Observe(s.TrueRes)
}
