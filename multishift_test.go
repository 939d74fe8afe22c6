// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
)

func TestMultiShiftCG(t *testing.T) {
	shifts := []float64{0.5, 0, 2, 10, 100}
	for _, tc := range spdCases() {
		a, b := tc.system()
		p := testParam(CGInverter)
		p.Tol = 1e-10
		p.Offset = shifts
		x := make([]*field.Field, len(shifts))
		for i := range x {
			x[i] = field.NewLike(b, field.InvalidPrecision)
		}
		require.NoError(t, NewMultiShiftCG(p, a, nil, nil).Solve(x, b), tc.name)

		require.Len(t, p.TrueResOffset, len(shifts))
		for i, sigma := range shifts {
			q := testParam(CGInverter)
			want := field.NewLike(b, field.InvalidPrecision)
			require.NoError(t, NewCG(q, operator.Shifted(a, sigma), nil, nil).Solve(want, b))
			if dist := floats.Distance(x[i].Data(), want.Data(), math.Inf(1)); dist > 1e-8 {
				t.Errorf("Case %v shift %v: |want-got|=%v", tc.name, sigma, dist)
			}
			if p.TrueResOffset[i] > 1e-8 {
				t.Errorf("Case %v shift %v: true residual %v", tc.name, sigma, p.TrueResOffset[i])
			}
		}
		// The reference system is the smallest shift.
		assert.Equal(t, p.TrueResOffset[1], p.TrueRes)
	}
}

func TestMultiShiftCGTolerances(t *testing.T) {
	tc := spdCases()[8]
	a, b := tc.system()
	p := testParam(CGInverter)
	p.Offset = []float64{0, 1}
	p.TolOffset = []float64{1e-12, 1e-3}
	x := []*field.Field{
		field.NewLike(b, field.InvalidPrecision),
		field.NewLike(b, field.InvalidPrecision),
	}
	require.NoError(t, NewMultiShiftCG(p, a, nil, nil).Solve(x, b))
	assert.LessOrEqual(t, p.IterResOffset[0], 1e-11)
	assert.LessOrEqual(t, p.IterResOffset[1], 1e-3)
	// The loose shift stops early and keeps its iterated residual.
	assert.Greater(t, p.IterResOffset[1], 1e-11)
}

func TestMultiShiftCGShiftCount(t *testing.T) {
	a := operator.NewDiagonal(2, 3, 4)
	b := ones(3)

	p := testParam(CGInverter)
	err := NewMultiShiftCG(p, a, nil, nil).Solve(nil, b)
	assert.True(t, errors.Is(err, ErrInvalidParam))

	p.Offset = make([]float64, MaxMultiShift+1)
	x := make([]*field.Field, len(p.Offset))
	err = NewMultiShiftCG(p, a, nil, nil).Solve(x, b)
	assert.True(t, errors.Is(err, ErrInvalidParam))

	p.Offset = []float64{0, 1}
	assert.Panics(t, func() {
		NewMultiShiftCG(p, a, nil, nil).Solve([]*field.Field{field.NewLike(b, field.InvalidPrecision)}, b)
	})
}

func TestMultiShiftCGZeroSource(t *testing.T) {
	p := testParam(CGInverter)
	p.Offset = []float64{0, 1}
	b := field.NewFrom(make([]float64, 3), 1)
	x := []*field.Field{ones(3), ones(3)}
	require.NoError(t, NewMultiShiftCG(p, operator.NewDiagonal(2, 3, 4), nil, nil).Solve(x, b))
	for _, xi := range x {
		assert.Equal(t, []float64{0, 0, 0}, xi.Data())
	}
}

func TestMultiShiftCGHeavyQuark(t *testing.T) {
	tc := spdCases()[8]
	a, b := tc.system()
	p := testParam(CGInverter)
	p.ResidualType = HeavyQuark
	p.Offset = []float64{0, 1}
	p.TolHQOffset = []float64{1e-10, 1e-2}
	x := []*field.Field{
		field.NewLike(b, field.InvalidPrecision),
		field.NewLike(b, field.InvalidPrecision),
	}
	require.NoError(t, NewMultiShiftCG(p, a, nil, nil).Solve(x, b))
	assert.LessOrEqual(t, p.TrueResHQOffset[0], 1e-9)
	assert.LessOrEqual(t, p.TrueResHQOffset[1], 2e-2)
	// The loose shift stops on its own heavy-quark tolerance.
	assert.Greater(t, p.TrueResHQOffset[1], 1e-9)
	assert.Greater(t, p.IterResOffset[1], p.IterResOffset[0])
}
