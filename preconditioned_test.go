// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/lattice"
)

func latticeConfig(drift float64) lattice.Config {
	return lattice.Config{
		Geometry: lattice.Geometry{Dims: [lattice.Nd]int{4, 4, 4, 4}},
		Colors:   2,
		Mass:     0.5,
		Drift:    drift,
		Seed:     1,
	}
}

// latticeSystem returns a Laplacian and a source whose solution is known.
func latticeSystem(t *testing.T, cfg lattice.Config) (l *lattice.Laplacian, b, want *field.Field) {
	t.Helper()
	l, err := lattice.New(cfg)
	require.NoError(t, err)
	rnd := rand.New(rand.NewPCG(1, 2))
	p := l.FieldParam(field.Double)
	want = field.New(p)
	for i := range want.Data() {
		want.Data()[i] = rnd.NormFloat64()
	}
	b = field.New(p)
	l.Apply(b, want)
	return l, b, want
}

func TestPreconditionedEvenOdd(t *testing.T) {
	for _, test := range []struct {
		kind  InverterType
		drift float64
	}{
		{CGInverter, 0},
		{CG3Inverter, 0},
		{BiCGstabInverter, 0.3},
		{GCRInverter, 0.3},
		{GMRESDRInverter, 0.3},
		{CGNRInverter, 0.3},
	} {
		l, b, want := latticeSystem(t, latticeConfig(test.drift))
		p := testParam(test.kind)
		p.Tol = 1e-10
		inner, err := New(p, l, nil, nil, nil)
		require.NoError(t, err)
		s := NewPreconditioned(inner, l, nil)

		x := field.NewLike(b, field.InvalidPrecision)
		require.NoError(t, s.Solve(x, b), test.kind.String())
		assert.InDeltaSlice(t, want.Data(), x.Data(), 1e-7, test.kind.String())
		assert.Greater(t, p.Iter, 0)
	}
}

// TestPreconditionedParity checks that a parity source is solved as is.
func TestPreconditionedParity(t *testing.T) {
	l, b, _ := latticeSystem(t, latticeConfig(0))
	p := testParam(CGInverter)
	s := NewPreconditioned(NewCG(p, l, nil, nil), l, nil)

	be := b.Even()
	x := field.NewLike(be, field.InvalidPrecision)
	require.NoError(t, s.Solve(x, be))
	r := field.NewLike(be, field.InvalidPrecision)
	l.Apply(r, x)
	assert.InDeltaSlice(t, be.Data(), r.Data(), 1e-8)
}

func TestPreconditionedMixedPrecision(t *testing.T) {
	l, b, want := latticeSystem(t, latticeConfig(0))
	p := testParam(CGInverter)
	p.Tol = 1e-10
	p.PrecisionSloppy = field.Single
	s := NewPreconditioned(NewCG(p, l, l.WithPrecision(field.Single), nil), l, nil)

	x := field.NewLike(b, field.InvalidPrecision)
	require.NoError(t, s.Solve(x, b))
	assert.InDeltaSlice(t, want.Data(), x.Data(), 1e-7)
}

func TestSchwarz(t *testing.T) {
	for _, kind := range []SchwarzType{SchwarzAdditive, SchwarzMultiplicative} {
		for _, overlap := range []int{0, 1} {
			cfg := latticeConfig(0.2)
			cfg.Block = [lattice.Nd]int{2, 2, 0, 0}
			l, b, want := latticeSystem(t, cfg)

			p := testParam(GCRInverter)
			p.Tol = 1e-10
			p.NKrylov = 16
			p.InvTypePrecondition = MRInverter
			p.MaxIterPrecondition = 6
			p.SchwarzType = kind
			p.OverlapPrecondition = overlap
			s, err := New(p, l, nil, nil, nil)
			require.NoError(t, err)
			gcr := s.(*GCR)
			_, ok := gcr.pc.k.(*Schwarz)
			require.True(t, ok, "preconditioner is %T", gcr.pc.k)

			x := field.NewLike(b, field.InvalidPrecision)
			require.NoError(t, s.Solve(x, b), "%v overlap %d", kind, overlap)
			assert.InDeltaSlice(t, want.Data(), x.Data(), 1e-7, "%v overlap %d", kind, overlap)
		}
	}
}

// TestSchwarzIsLocal checks that the sub-domain solvers do not
// communicate.
func TestSchwarzIsLocal(t *testing.T) {
	cfg := latticeConfig(0)
	cfg.Block = [lattice.Nd]int{2, 2, 2, 2}
	l, b, _ := latticeSystem(t, cfg)

	p := testParam(MRInverter)
	p.IsPreconditioner = true
	p.GlobalReduction = false
	p.SchwarzType = SchwarzAdditive
	p.MaxIter = 4
	s, err := New(p, l, nil, nil, nil)
	require.NoError(t, err)
	require.IsType(t, &Schwarz{}, s)
	for _, sd := range s.(*Schwarz).domains {
		mr := sd.s.(*MR)
		assert.False(t, mr.param.GlobalReduction)
		assert.True(t, mr.param.IsPreconditioner)
	}
	x := field.NewLike(b, field.InvalidPrecision)
	require.NoError(t, s.Solve(x, b))
	assert.Equal(t, 4, p.Iter)
}

func TestXSD(t *testing.T) {
	cfg := latticeConfig(0)
	cfg.Block = [lattice.Nd]int{2, 0, 0, 0}
	l, b, _ := latticeSystem(t, cfg)

	p := testParam(XSDInverter)
	p.MaxIter = 20
	p.OverlapPrecondition = 1
	s, err := New(p, l, nil, nil, nil)
	require.NoError(t, err)
	require.IsType(t, &Schwarz{}, s)

	x := field.NewLike(b, field.InvalidPrecision)
	require.NoError(t, s.Solve(x, b))
	// XSD is a smoother: the residual drops without converging.
	assert.Less(t, p.TrueRes, 1.0)
	assert.Greater(t, p.Iter, 0)
}
