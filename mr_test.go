// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/kostrzewa/quda/blas"
	"github.com/kostrzewa/quda/comm"
	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
)

func TestMR(t *testing.T) {
	testSolver(t, nonsymmetricCases(),
		func() *Param {
			p := testParam(MRInverter)
			p.MaxIter = 200
			return p
		},
		func(p *Param, a operator.Operator) Solver { return NewMR(p, a, nil) },
	)
}

func TestMRMonotone(t *testing.T) {
	a := operator.NewDiagonal(2, 3, 4)
	b := ones(3)
	r := field.NewLike(b, field.InvalidPrecision)
	prev := math.Inf(1)
	for iter := 1; iter <= 8; iter++ {
		p := testParam(MRInverter)
		p.MaxIter = iter
		x := field.NewLike(b, field.InvalidPrecision)
		require.NoError(t, NewMR(p, a, nil).Solve(x, b))
		a.Apply(r, x)
		floats.Sub(r.Data(), b.Data())
		res := floats.Norm(r.Data(), 2)
		assert.LessOrEqual(t, res, prev, "iteration %d", iter)
		prev = res
	}
	assert.Less(t, prev, 1e-2)
}

// TestMRScaleInvariance checks that the iterates do not depend on the
// magnitude of the source.
func TestMRScaleInvariance(t *testing.T) {
	tc := nonsymmetricCases()[6]
	a, b := tc.system()
	tiny := field.NewLike(b, field.InvalidPrecision)
	copy(tiny.Data(), b.Data())
	floats.Scale(1e-150, tiny.Data())

	solve := func(b *field.Field) []float64 {
		p := testParam(MRInverter)
		p.MaxIter = 10
		x := field.NewLike(b, field.InvalidPrecision)
		require.NoError(t, NewMR(p, a, nil).Solve(x, b))
		return x.Data()
	}
	want := solve(b)
	got := solve(tiny)
	floats.Scale(1e150, got)
	if !floats.EqualApprox(got, want, 1e-12) {
		t.Errorf("unexpected solution for a scaled source:\ngot  %v\nwant %v", got, want)
	}
}

func TestMRZeroSource(t *testing.T) {
	p := testParam(MRInverter)
	b := field.NewFrom(make([]float64, 3), 1)
	x := field.NewFrom([]float64{1, 1, 1}, 1)
	require.NoError(t, NewMR(p, operator.NewDiagonal(2, 3, 4), nil).Solve(x, b))
	assert.Equal(t, []float64{0, 0, 0}, x.Data())
	assert.Zero(t, p.Iter)
}

// TestMRPreconditionerSource checks that an MR preconditioner works in the
// source unless asked to preserve it.
func TestMRPreconditionerSource(t *testing.T) {
	for _, preserve := range []bool{false, true} {
		p := testParam(MRInverter)
		p.IsPreconditioner = true
		p.PreserveSource = preserve
		p.MaxIter = 3
		b := ones(3)
		x := field.NewLike(b, field.InvalidPrecision)
		require.NoError(t, NewMR(p, operator.NewDiagonal(2, 3, 4), nil).Solve(x, b))
		assert.Equal(t, preserve, floats.Equal(b.Data(), []float64{1, 1, 1}), "preserve=%t", preserve)
	}
}

// TestLocalReduction checks that a solver reducing locally does not
// communicate.
func TestLocalReduction(t *testing.T) {
	tc := nonsymmetricCases()[5]
	a, b := tc.system()
	for _, global := range []bool{false, true} {
		c := comm.NewCounting(nil)
		p := testParam(MRInverter)
		p.GlobalReduction = global
		p.IsPreconditioner = true
		p.MaxIter = 5
		s := NewMR(p, a, nil, WithBackend(blas.New(c)))
		x := field.NewLike(b, field.InvalidPrecision)
		require.NoError(t, s.Solve(x, b))
		if global {
			assert.Greater(t, c.Calls(), int64(0))
		} else {
			assert.Zero(t, c.Calls())
		}
	}
}

// TestReplicatedReduction checks that a global solve on identical copies
// of the domain converges to the same solution.
func TestReplicatedReduction(t *testing.T) {
	tc := spdCases()[6]
	a, b := tc.system()
	p := testParam(CGInverter)
	x := field.NewLike(b, field.InvalidPrecision)
	require.NoError(t, NewCG(p, a, nil, nil, WithCommunicator(comm.Replicated(4))).Solve(x, b))
	checkSolution(t, tc, x)
}

func TestSD(t *testing.T) {
	testSolver(t, spdCases(),
		func() *Param {
			p := testParam(SDInverter)
			p.MaxIter = 500
			return p
		},
		func(p *Param, a operator.Operator) Solver { return NewSD(p, a, nil) },
	)
}

func TestXSDWithoutDomains(t *testing.T) {
	p := testParam(XSDInverter)
	s, err := NewXSD(p, operator.NewDiagonal(2, 3, 4), nil)
	require.NoError(t, err)
	_, ok := s.(*SD)
	assert.True(t, ok, "an operator without sub-domains gets plain SD")
}
