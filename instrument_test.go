// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/metrics"
)

type failingSolver struct{}

func (failingSolver) Solve(x, b *field.Field) error { return ErrBreakdown }

func TestInstrument(t *testing.T) {
	tc := spdCases()[6]
	a, b := tc.system()
	p := testParam(CGInverter)
	reg := prometheus.NewRegistry()
	s := Instrument(NewCG(p, a, nil, nil), p, metrics.NewRecorder(reg))

	x := field.NewLike(b, field.InvalidPrecision)
	require.NoError(t, s.SolveContext(context.Background(), x, b))
	iter := p.Iter
	require.NoError(t, s.Solve(x, b))
	checkSolution(t, tc, x)

	n, err := testutil.GatherAndCount(reg, "quda_solver_solves_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		switch mf.GetName() {
		case "quda_solver_solves_total":
			assert.Equal(t, 2.0, mf.GetMetric()[0].GetCounter().GetValue())
		case "quda_solver_iterations_total":
			assert.Equal(t, float64(2*iter), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
}

func TestInstrumentError(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := testParam(MRInverter)
	s := Instrument(failingSolver{}, p, metrics.NewRecorder(reg))
	b := ones(3)
	err := s.Solve(field.NewLike(b, field.InvalidPrecision), b)
	assert.True(t, errors.Is(err, ErrBreakdown))

	n, err := testutil.GatherAndCount(reg, "quda_solver_solves_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInstrumentNilRecorder(t *testing.T) {
	tc := spdCases()[2]
	a, b := tc.system()
	p := testParam(CGInverter)
	s := Instrument(NewCG(p, a, nil, nil), p, nil)
	x := field.NewLike(b, field.InvalidPrecision)
	require.NoError(t, s.Solve(x, b))
	checkSolution(t, tc, x)
}
