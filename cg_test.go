// Copyright ©2016 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"bytes"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

func TestCG(t *testing.T) {
	testSolver(t, spdCases(),
		func() *Param { return testParam(CGInverter) },
		func(p *Param, a operator.Operator) Solver { return NewCG(p, a, nil, nil) },
	)
}

func TestCGDiagonal(t *testing.T) {
	p := testParam(CGInverter)
	a := operator.NewDiagonal(2, 3, 4)
	b := ones(3)
	x := field.NewLike(b, field.InvalidPrecision)
	require.NoError(t, NewCG(p, a, nil, nil).Solve(x, b))

	want := []float64{0.5, 1.0 / 3, 0.25}
	if dist := floats.Distance(x.Data(), want, math.Inf(1)); dist > 1e-12 {
		t.Errorf("unexpected solution %v, |want-got|=%v", x.Data(), dist)
	}
	assert.LessOrEqual(t, p.Iter, 3, "CG terminates in at most n steps")
	assert.Less(t, p.TrueRes, 1e-12)
}

func TestCGMixedPrecision(t *testing.T) {
	for _, tc := range spdCases() {
		a, b := tc.system()
		p := testParam(CGInverter)
		p.Tol = 1e-10
		p.PrecisionSloppy = field.Single
		p.MaxIter = 10000
		x := field.NewLike(b, field.InvalidPrecision)
		require.NoError(t, NewCG(p, a, a, nil).Solve(x, b), tc.name)

		// Reliable updates keep the true residual at the requested
		// tolerance although the iteration runs in single precision.
		if p.TrueRes > 1e-9 {
			t.Errorf("Case %v: true residual %v", tc.name, p.TrueRes)
		}
		checkSolution(t, tc, x)
	}
}

func TestCGZeroSource(t *testing.T) {
	p := testParam(CGInverter)
	a := operator.NewDiagonal(2, 3, 4)
	b := field.NewFrom(make([]float64, 3), 1)
	x := field.NewFrom([]float64{7, 8, 9}, 1)
	require.NoError(t, NewCG(p, a, nil, nil).Solve(x, b))
	assert.Equal(t, []float64{0, 0, 0}, x.Data())
	assert.Zero(t, p.Iter)
	assert.Zero(t, p.TrueRes)
}

func TestCGInitialGuess(t *testing.T) {
	tc := spdCases()[6]
	a, b := tc.system()
	p := testParam(CGInverter)
	p.UseInitGuess = true
	x := ones(tc.n)
	require.NoError(t, NewCG(p, a, nil, nil).Solve(x, b))
	assert.Zero(t, p.Iter, "exact initial guess")
	checkSolution(t, tc, x)

	p = testParam(CGInverter)
	p.UseInitGuess = true
	d := x.Data()
	for i := range d {
		d[i] = 0.5
	}
	require.NoError(t, NewCG(p, a, nil, nil).Solve(x, b))
	checkSolution(t, tc, x)
}

func TestCGMaxIter(t *testing.T) {
	tc := spdCases()[8]
	a, b := tc.system()
	p := testParam(CGInverter)
	p.MaxIter = 2
	x := field.NewLike(b, field.InvalidPrecision)
	// Running out of iterations is not an error.
	require.NoError(t, NewCG(p, a, nil, nil).Solve(x, b))
	assert.Equal(t, 2, p.Iter)
	assert.Greater(t, p.TrueRes, p.Tol)
}

func TestCGStatisticsAccumulate(t *testing.T) {
	tc := spdCases()[7]
	a, b := tc.system()
	p := testParam(CGInverter)
	prof := profile.New("cg")
	s := NewCG(p, a, nil, prof)

	x := field.NewLike(b, field.InvalidPrecision)
	require.NoError(t, s.Solve(x, b))
	iter, gflops, secs := p.Iter, p.Gflops, p.Secs
	require.Greater(t, iter, 0)
	require.Greater(t, gflops, 0.0)

	require.NoError(t, s.Solve(x, b))
	assert.Equal(t, 2*iter, p.Iter)
	assert.InDelta(t, 2*gflops, p.Gflops, 1e-3*gflops)
	assert.GreaterOrEqual(t, p.Secs, secs)
	assert.Equal(t, 2, prof.Count(profile.Compute))
}

func TestCGReturnResidual(t *testing.T) {
	tc := spdCases()[5]
	a, b := tc.system()
	p := testParam(CGInverter)
	p.ReturnResidual = true
	p.MaxIter = 3
	x := field.NewLike(b, field.InvalidPrecision)
	require.NoError(t, NewCG(p, a, nil, nil).Solve(x, b))

	// b holds the final residual.
	_, b0 := tc.system()
	r := field.NewLike(b0, field.InvalidPrecision)
	a.Apply(r, x)
	want := make([]float64, tc.n)
	floats.SubTo(want, b0.Data(), r.Data())
	assert.InDeltaSlice(t, want, b.Data(), 1e-10)
}

func TestCGHeavyQuark(t *testing.T) {
	tc := spdCases()[7]
	a, b := tc.system()
	p := testParam(CGInverter)
	p.ResidualType = L2Relative | HeavyQuark
	p.TolHQ = 1e-10
	x := field.NewLike(b, field.InvalidPrecision)
	require.NoError(t, NewCG(p, a, nil, nil).Solve(x, b))
	checkSolution(t, tc, x)
	assert.LessOrEqual(t, p.TrueResHQ, 1e-9)
}

// stallParam returns a Param whose tolerance lies below the precision floor,
// so that only reliable-update exhaustion ends the solve.
func stallParam(kind InverterType) *Param {
	p := testParam(kind)
	p.Tol = 1e-30
	p.PrecisionSloppy = field.Half
	p.MaxIter = 100000
	p.MaxResIncreaseTotal = 3
	return p
}

func TestCGStall(t *testing.T) {
	tc := spdCases()[6]
	a, b := tc.system()
	p := stallParam(CGInverter)
	var buf bytes.Buffer
	s := NewCG(p, a, a, nil, WithLogger(NewLogger(slog.NewTextHandler(&buf, nil))))
	x := field.NewLike(b, field.InvalidPrecision)
	require.NoError(t, s.Solve(x, b))
	assert.Less(t, p.Iter, p.MaxIter/10, "solve ran to the iteration cap")
	assert.Contains(t, buf.String(), "solver stalled")
	assert.Less(t, p.TrueRes, 1e-10)
}

// TestCGHeavyQuarkFallback checks that CG finishes on the heavy-quark
// residual once the L2 residual stops improving.
func TestCGHeavyQuarkFallback(t *testing.T) {
	tc := spdCases()[6]
	a, b := tc.system()
	p := stallParam(CGInverter)
	p.ResidualType = L2Relative | HeavyQuark
	p.TolHQ = 1e-6
	var buf bytes.Buffer
	s := NewCG(p, a, a, nil, WithLogger(NewLogger(slog.NewTextHandler(&buf, nil))))
	x := field.NewLike(b, field.InvalidPrecision)
	require.NoError(t, s.Solve(x, b))
	assert.Less(t, p.Iter, p.MaxIter/10, "solve ran to the iteration cap")
	assert.Contains(t, buf.String(), "continuing on heavy-quark residual")
	assert.LessOrEqual(t, p.TrueResHQ, 1e-6)
}

func TestCG3(t *testing.T) {
	testSolver(t, spdCases(),
		func() *Param { return testParam(CG3Inverter) },
		func(p *Param, a operator.Operator) Solver { return NewCG3(p, a, nil, nil) },
	)
}

func TestCG3MixedPrecision(t *testing.T) {
	tc := spdCases()[7]
	a, b := tc.system()
	p := testParam(CG3Inverter)
	p.Tol = 1e-10
	p.PrecisionSloppy = field.Single
	p.MaxIter = 10000
	x := field.NewLike(b, field.InvalidPrecision)
	require.NoError(t, NewCG3(p, a, a, nil).Solve(x, b))
	checkSolution(t, tc, x)
}
