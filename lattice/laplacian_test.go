// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lattice

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/kostrzewa/quda/field"
)

func testConfig() Config {
	return Config{
		Geometry: Geometry{Dims: [Nd]int{4, 4, 4, 4}},
		Colors:   2,
		Mass:     0.3,
		Seed:     1,
	}
}

func randomField(rnd *rand.Rand, p field.Param) *field.Field {
	f := field.New(p)
	for i := range f.Data() {
		f.Data()[i] = rnd.NormFloat64()
	}
	return f
}

func TestCheckerboard(t *testing.T) {
	g := Geometry{Dims: [Nd]int{4, 2, 2, 6}}
	require.NoError(t, g.Validate())
	seen := make([]bool, g.Volume())
	for i := 0; i < g.Volume(); i++ {
		x := g.Coords(i)
		require.Equal(t, i, g.Lex(x))
		cb := g.CB(x)
		require.False(t, seen[cb], "duplicate checkerboard index %d", cb)
		seen[cb] = true
		assert.Equal(t, Parity(x) == 1, cb >= g.Volume()/2)
	}

	assert.Error(t, Geometry{Dims: [Nd]int{3, 2, 2, 2}}.Validate())
	assert.Error(t, Geometry{Dims: [Nd]int{2, 0, 2, 2}}.Validate())
}

func TestLaplacianAdjoint(t *testing.T) {
	for _, drift := range []float64{0, 0.4} {
		cfg := testConfig()
		cfg.Drift = drift
		l, err := New(cfg)
		require.NoError(t, err)
		assert.Equal(t, drift == 0, l.Hermitian())

		rnd := rand.New(rand.NewPCG(2, 3))
		p := l.FieldParam(field.Double)
		x, y := randomField(rnd, p), randomField(rnd, p)
		mx, mty := field.New(p), field.New(p)
		l.Apply(mx, x)
		l.ApplyDagger(mty, y)
		assert.InDelta(t, floats.Dot(y.Data(), mx.Data()), floats.Dot(mty.Data(), x.Data()), 1e-10)
		assert.Greater(t, floats.Dot(x.Data(), mx.Data()), 0.0)
		assert.NotZero(t, l.Flops())

		// The Schur complement is adjoint to its dagger on each parity.
		for _, xs := range [][2]*field.Field{{x.Even(), y.Even()}, {x.Odd(), y.Odd()}} {
			sx := field.NewLike(xs[0], field.InvalidPrecision)
			sty := field.NewLike(xs[1], field.InvalidPrecision)
			l.Apply(sx, xs[0])
			l.ApplyDagger(sty, xs[1])
			assert.InDelta(t, floats.Dot(xs[1].Data(), sx.Data()), floats.Dot(sty.Data(), xs[0].Data()), 1e-10)
		}
	}
}

func TestPrepareReconstruct(t *testing.T) {
	cfg := testConfig()
	cfg.Drift = 0.2
	l, err := New(cfg)
	require.NoError(t, err)

	rnd := rand.New(rand.NewPCG(4, 5))
	p := l.FieldParam(field.Double)
	want := randomField(rnd, p)
	b := field.New(p)
	l.Apply(b, want)

	x := field.New(p)
	copy(x.Even().Data(), want.Even().Data())
	out, in, err := l.Prepare(x, b)
	require.NoError(t, err)
	require.Equal(t, field.Even, out.Parity())
	require.Equal(t, field.Even, in.Parity())

	// The even part of the solution solves the reduced system.
	sx := field.NewLike(out, field.InvalidPrecision)
	l.Apply(sx, out)
	for i, v := range in.Data() {
		require.InDelta(t, v, sx.Data()[i], 1e-10)
	}

	require.NoError(t, l.Reconstruct(x, b))
	for i, v := range want.Data() {
		require.InDelta(t, v, x.Data()[i], 1e-10)
	}

	// Parity systems pass through.
	xe, be := x.Even(), b.Even()
	out, in, err = l.Prepare(xe, be)
	require.NoError(t, err)
	assert.Same(t, xe, out)
	assert.Same(t, be, in)
	assert.NoError(t, l.Reconstruct(xe, be))
}

func TestParallelApply(t *testing.T) {
	cfg := testConfig()
	cfg.Drift = 0.1
	serial, err := New(cfg)
	require.NoError(t, err)
	cfg.Workers = 4
	parallel, err := New(cfg)
	require.NoError(t, err)

	rnd := rand.New(rand.NewPCG(6, 7))
	p := serial.FieldParam(field.Double)
	x := randomField(rnd, p)
	a, b := field.New(p), field.New(p)
	serial.Apply(a, x)
	parallel.Apply(b, x)
	assert.Equal(t, a.Data(), b.Data())
}

func TestWithPrecision(t *testing.T) {
	l, err := New(testConfig())
	require.NoError(t, err)
	s := l.WithPrecision(field.Single)
	assert.Equal(t, field.Single, s.Precision())
	for _, v := range s.links[0] {
		require.Equal(t, float64(float32(v)), v)
	}

	rnd := rand.New(rand.NewPCG(8, 9))
	x := randomField(rnd, l.FieldParam(field.Double))
	want, got := field.New(l.FieldParam(field.Double)), field.New(l.FieldParam(field.Single))
	l.Apply(want, x)
	s.Apply(got, x)
	for i, v := range want.Data() {
		require.InDelta(t, v, got.Data()[i], 1e-4)
	}
}

func TestDomains(t *testing.T) {
	cfg := testConfig()
	cfg.Block = [Nd]int{2, 4, 0, 0}
	l, err := New(cfg)
	require.NoError(t, err)
	require.Equal(t, 2, l.Domains())

	rnd := rand.New(rand.NewPCG(10, 11))
	p := l.FieldParam(field.Double)
	src := randomField(rnd, p)
	dst := field.New(p)
	for i := 0; i < l.Domains(); i++ {
		d := l.Domain(i, 1)
		box := field.New(d.Param(p))
		assert.Equal(t, 4*4*4*4, box.Volume())
		d.Restrict(box, src)
		d.Prolong(dst, box)
	}
	assert.Equal(t, src.Data(), dst.Data(), "the interiors must tile the lattice")

	assert.Panics(t, func() { l.Domain(0, 2) })
	assert.Panics(t, func() { l.Domain(2, 0) })

	_, err = New(Config{Geometry: cfg.Geometry, Colors: 1, Block: [Nd]int{3, 0, 0, 0}})
	assert.Error(t, err)
}

func TestSingleDomainIsPeriodic(t *testing.T) {
	cfg := testConfig()
	cfg.Drift = 0.3
	l, err := New(cfg)
	require.NoError(t, err)
	require.Equal(t, 1, l.Domains())

	rnd := rand.New(rand.NewPCG(12, 13))
	p := l.FieldParam(field.Double)
	x := randomField(rnd, p)
	want := field.New(p)
	l.ApplyDagger(want, x)

	d := l.Domain(0, 3)
	bx := field.New(d.Param(p))
	by := field.New(d.Param(p))
	d.Restrict(bx, x)
	d.Operator().ApplyDagger(by, bx)
	got := field.New(p)
	d.Prolong(got, by)
	for i, v := range want.Data() {
		require.InDelta(t, v, got.Data()[i], 1e-12)
	}
	assert.NotZero(t, d.Operator().Flops())
}

func TestDirichletBlock(t *testing.T) {
	cfg := testConfig()
	cfg.Block = [Nd]int{2, 0, 0, 0}
	l, err := New(cfg)
	require.NoError(t, err)

	// Without overlap the block operator drops the hops leaving the
	// block, so on a field supported in the block interior it agrees with
	// the full operator there.
	p := l.FieldParam(field.Double)
	d := l.Domain(0, 0)
	box := field.New(d.Param(p))
	for i := range box.Data() {
		box.Data()[i] = 1
	}
	x := field.New(p)
	d.Prolong(x, box)

	full := field.New(p)
	l.Apply(full, x)
	boxOut := field.New(d.Param(p))
	d.Operator().Apply(boxOut, box)
	restricted := field.New(d.Param(p))
	d.Restrict(restricted, full)
	for i, v := range restricted.Data() {
		require.InDelta(t, v, boxOut.Data()[i], 1e-12)
	}
}
