// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

func TestNormal(t *testing.T) {
	for _, test := range []struct {
		kind InverterType
		new  func(p *Param, a operator.Operator) *Normal
	}{
		{CGNEInverter, func(p *Param, a operator.Operator) *Normal { return NewCGNE(p, a, nil, nil) }},
		{CGNRInverter, func(p *Param, a operator.Operator) *Normal { return NewCGNR(p, a, nil, nil) }},
		{CG3NEInverter, func(p *Param, a operator.Operator) *Normal { return NewCG3NE(p, a, nil, nil) }},
		{CG3NRInverter, func(p *Param, a operator.Operator) *Normal { return NewCG3NR(p, a, nil, nil) }},
	} {
		for _, tc := range nonsymmetricCases() {
			a, b := tc.system()
			p := testParam(test.kind)
			x := field.NewLike(b, field.InvalidPrecision)
			require.NoError(t, test.new(p, a).Solve(x, b), "%v %v", test.kind, tc.name)
			checkSolution(t, tc, x)
			// The residual reported is that of A x = b.
			if p.TrueRes > 1e-9 {
				t.Errorf("%v case %v: true residual %v", test.kind, tc.name, p.TrueRes)
			}
			assert.Greater(t, p.Iter, 0)
		}
	}
}

func TestNormalInitialGuess(t *testing.T) {
	for _, kind := range []InverterType{CGNEInverter, CGNRInverter} {
		tc := nonsymmetricCases()[6]
		a, b := tc.system()
		p := testParam(kind)
		p.UseInitGuess = true
		s, err := New(p, a, nil, nil, nil)
		require.NoError(t, err)
		x := field.NewLike(b, field.InvalidPrecision)
		d := x.Data()
		for i := range d {
			d[i] = 1.1
		}
		require.NoError(t, s.Solve(x, b))
		checkSolution(t, tc, x)
	}
}

func TestNormalStatistics(t *testing.T) {
	tc := nonsymmetricCases()[7]
	a, b := tc.system()
	p := testParam(CGNRInverter)
	prof := profile.New("cgnr")
	s := NewCGNR(p, a, nil, prof)
	x := field.NewLike(b, field.InvalidPrecision)
	require.NoError(t, s.Solve(x, b))

	// The inner solve's statistics end up in the outer record.
	iter, gflops := p.Iter, p.Gflops
	require.Greater(t, iter, 0)
	require.Greater(t, gflops, 0.0)
	require.NoError(t, s.Solve(x, b))
	assert.Equal(t, 2*iter, p.Iter)
	assert.InDelta(t, 2*gflops, p.Gflops, 1e-3*gflops)
	assert.Equal(t, 2, prof.Count(profile.Compute))
}

func TestPCG(t *testing.T) {
	testSolver(t, spdCases(),
		func() *Param { return testParam(PCGInverter) },
		func(p *Param, a operator.Operator) Solver { return NewPCG(p, a, nil, nil, nil, nil) },
	)
}

func TestPCGPreconditioned(t *testing.T) {
	for _, kind := range []InverterType{MRInverter, SDInverter, CGInverter} {
		testSolver(t, spdCases(),
			func() *Param {
				p := testParam(PCGInverter)
				p.InvTypePrecondition = kind
				p.MaxIterPrecondition = 3
				return p
			},
			func(p *Param, a operator.Operator) Solver {
				s, err := New(p, a, nil, nil, nil)
				if err != nil {
					t.Fatal(err)
				}
				return s
			},
		)
	}
}

// scaling is the preconditioner x = b / c. It counts its applications.
type scaling struct {
	c     float64
	calls int
}

func (s *scaling) Solve(x, b *field.Field) error {
	copy(x.Data(), b.Data())
	floats.Scale(1/s.c, x.Data())
	x.Quantize()
	s.calls++
	return nil
}

func TestPreconditionCycle(t *testing.T) {
	tc := spdCases()[6]
	a, b := tc.system()
	for _, test := range []struct {
		name string
		new  func(p *Param, k Solver) Solver
	}{
		{"pcg", func(p *Param, k Solver) Solver { return NewPCG(p, a, nil, nil, k, nil) }},
		{"bicgstab", func(p *Param, k Solver) Solver { return NewBiCGstab(p, a, nil, nil, k, nil) }},
		{"gcr", func(p *Param, k Solver) Solver { return NewGCR(p, a, nil, nil, k, nil) }},
	} {
		k := &scaling{c: mat.Norm(tc.a, 2)}
		p := testParam(PCGInverter)
		p.PreconditionCycle = 3
		x := field.NewLike(b, field.InvalidPrecision)
		require.NoError(t, test.new(p, k).Solve(x, b), test.name)
		checkSolution(t, tc, x)
		assert.Greater(t, k.calls, 0, test.name)
		assert.Zero(t, k.calls%3, "%s: %d applications", test.name, k.calls)
	}
}

func TestPCGMixedPrecisionPreconditioner(t *testing.T) {
	tc := spdCases()[8]
	a, b := tc.system()
	p := testParam(PCGInverter)
	p.InvTypePrecondition = MRInverter
	p.PrecisionPrecondition = field.Half
	p.PrecisionSloppy = field.Single
	p.Tol = 1e-10
	s, err := New(p, a, a, a, nil)
	require.NoError(t, err)
	x := field.NewLike(b, field.InvalidPrecision)
	require.NoError(t, s.Solve(x, b))
	checkSolution(t, tc, x)
}
