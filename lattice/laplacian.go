// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lattice provides a covariant lattice Laplacian on a periodic
// four-dimensional lattice: a sparse, nearest-neighbour operator with the
// structure of the lattice Dirac operators the solvers are built for.
//
// The operator is
//
//	(M ψ)(x) = (2·Nd + m²) ψ(x) - Σ_μ [(1+κ) U_μ(x) ψ(x+μ) + (1-κ) U_μ(x-μ)ᵀ ψ(x-μ)]
//
// where the links U_μ(x) are random orthogonal Colors×Colors matrices. With
// drift κ = 0 and m ≠ 0 it is symmetric positive definite; a non-zero drift
// makes it non-symmetric.
//
// Applied to a full field, a Laplacian applies M. Applied to a parity field,
// it applies the Schur complement of M on that parity,
//
//	S_p = D - H_pq H_qp / D,
//
// the even/odd preconditioned operator whose system Prepare sets up.
package lattice

import (
	"fmt"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
	gblas "gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"

	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
)

// Config describes a Laplacian.
type Config struct {
	Geometry `yaml:",inline"`

	// Colors is the number of components per site.
	Colors int `yaml:"colors" validate:"min=1"`

	Mass  float64 `yaml:"mass"`
	Drift float64 `yaml:"drift" validate:"gte=-1,lte=1"`

	// Block is the extent of the sub-domains used for domain
	// decomposition. A zero extent spans the whole lattice.
	Block [Nd]int `yaml:"block"`

	// Seed seeds the random links.
	Seed uint64 `yaml:"seed"`

	// Workers bounds the number of goroutines applying the operator.
	// Zero or one applies it on the calling goroutine.
	Workers int `yaml:"workers" validate:"min=0"`
}

// minChunk is the smallest number of sites handed to one worker.
const minChunk = 64

// layout holds the data shared by every precision tier of a Laplacian.
type layout struct {
	cfg   Config
	vol   int
	half  int
	diag  float64
	block [Nd]int
	full  stencil
}

// Laplacian is the covariant lattice Laplacian. It implements
// operator.Operator, operator.Preparer and operator.Decomposer.
type Laplacian struct {
	*layout
	links [Nd][]float64
	prec  field.Precision
	c     operator.Counter

	tmp  *field.Field
	prep *field.Field
}

// New returns the Laplacian described by cfg in double precision.
func New(cfg Config) (*Laplacian, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Colors <= 0 {
		return nil, fmt.Errorf("lattice: non-positive number of colors %d", cfg.Colors)
	}
	lay := &layout{
		cfg:  cfg,
		vol:  cfg.Volume(),
		diag: 2*Nd + cfg.Mass*cfg.Mass,
	}
	lay.half = lay.vol / 2
	for d := range lay.block {
		b := cfg.Block[d]
		if b == 0 {
			b = cfg.Dims[d]
		}
		if b < 0 || cfg.Dims[d]%b != 0 {
			return nil, fmt.Errorf("lattice: block extent %d does not divide %d", b, cfg.Dims[d])
		}
		lay.block[d] = b
	}
	lay.full = newFullStencil(cfg.Geometry)

	l := &Laplacian{layout: lay, prec: field.Double}
	nc := cfg.Colors
	rnd := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	a := mat.NewDense(nc, nc, nil)
	var qr mat.QR
	var q mat.Dense
	for mu := range l.links {
		l.links[mu] = make([]float64, lay.vol*nc*nc)
		for s := 0; s < lay.vol; s++ {
			for i := 0; i < nc; i++ {
				for j := 0; j < nc; j++ {
					a.Set(i, j, rnd.NormFloat64())
				}
			}
			qr.Factorize(a)
			qr.QTo(&q)
			u := l.links[mu][s*nc*nc : (s+1)*nc*nc]
			for i := 0; i < nc; i++ {
				for j := 0; j < nc; j++ {
					u[i*nc+j] = q.At(i, j)
				}
			}
		}
	}
	return l, nil
}

// WithPrecision returns the Laplacian with its links stored in precision
// prec. The returned operator shares the geometry of l.
func (l *Laplacian) WithPrecision(prec field.Precision) *Laplacian {
	m := &Laplacian{layout: l.layout, prec: prec}
	for mu := range l.links {
		m.links[mu] = append([]float64(nil), l.links[mu]...)
		prec.RoundSlice(m.links[mu])
	}
	return m
}

// Config returns the configuration of l.
func (l *Laplacian) Config() Config { return l.cfg }

// Precision returns the precision of the links of l.
func (l *Laplacian) Precision() field.Precision { return l.prec }

// Hermitian reports whether l is symmetric.
func (l *Laplacian) Hermitian() bool { return l.cfg.Drift == 0 }

// FieldParam returns the parameters of a full field on the lattice.
func (l *Laplacian) FieldParam(prec field.Precision) field.Param {
	return field.Param{
		Volume:    l.vol,
		SiteSize:  l.cfg.Colors,
		Subset:    field.Full,
		Precision: prec,
		Create:    field.CreateZero,
	}
}

func (l *Laplacian) Apply(out, in *field.Field) { l.apply(out, in, l.cfg.Drift) }

func (l *Laplacian) ApplyDagger(out, in *field.Field) { l.apply(out, in, -l.cfg.Drift) }

func (l *Laplacian) Flops() uint64 { return l.c.Flops() }

func (l *Laplacian) apply(out, in *field.Field, kappa float64) {
	l.check(out, in)
	od, id := out.Data(), in.Data()
	if in.Subset() == field.Full {
		l.hop(&l.full, od, 0, id, 0, 0, l.vol, kappa)
		for i, v := range id {
			od[i] = l.diag*v - od[i]
		}
		out.Quantize()
		l.c.Add(l.vol * l.siteFlops())
		return
	}

	p := parityIndex(in.Parity())
	q := 1 - p
	if l.tmp == nil || l.tmp.Param() != in.Param() {
		l.tmp = field.NewLike(in, field.InvalidPrecision)
	}
	td := l.tmp.Data()
	l.hop(&l.full, td, q*l.half, id, p*l.half, q*l.half, (q+1)*l.half, kappa)
	l.hop(&l.full, od, p*l.half, td, q*l.half, p*l.half, (p+1)*l.half, kappa)
	for i, v := range id {
		od[i] = l.diag*v - od[i]/l.diag
	}
	out.Quantize()
	l.c.Add(l.vol * l.siteFlops())
}

func (l *Laplacian) check(out, in *field.Field) {
	if !field.Compatible(out, in) || out == in {
		panic("lattice: incompatible or aliased fields")
	}
	if in.SiteSize() != l.cfg.Colors {
		panic("lattice: site size mismatch")
	}
	switch in.Subset() {
	case field.Full:
		if in.Volume() != l.vol {
			panic("lattice: volume mismatch")
		}
	default:
		if in.Volume() != l.half {
			panic("lattice: volume mismatch")
		}
		if in.Parity() != out.Parity() {
			panic("lattice: parity mismatch")
		}
	}
}

func (l *Laplacian) siteFlops() int {
	nc := l.cfg.Colors
	return 2*Nd*(2*nc*nc+nc) + 2*nc
}

// Prepare sets up the even/odd preconditioned system
//
//	S_e x_e = b_e + H_eo b_o / D
//
// for a full source b. The returned solution field is the even part of x.
// Parity fields are returned unchanged.
func (l *Laplacian) Prepare(x, b *field.Field) (out, in *field.Field, err error) {
	if b.Subset() != field.Full {
		return x, b, nil
	}
	if !field.Compatible(x, b) {
		return nil, nil, fmt.Errorf("lattice: incompatible fields %v and %v", x, b)
	}
	if _, err := field.CheckLocation(x, b); err != nil {
		return nil, nil, err
	}
	be := b.Even()
	if l.prep == nil || l.prep.Param() != be.Param() {
		l.prep = field.NewLike(be, field.InvalidPrecision)
	}
	pd, bd := l.prep.Data(), b.Data()
	l.hop(&l.full, pd, 0, bd, 0, 0, l.half, l.cfg.Drift)
	for i, v := range be.Data() {
		pd[i] = v + pd[i]/l.diag
	}
	l.prep.Quantize()
	return x.Even(), l.prep, nil
}

// Reconstruct completes the odd sites of x from the solution on the even
// sites,
//
//	x_o = (b_o + H_oe x_e) / D.
func (l *Laplacian) Reconstruct(x, b *field.Field) error {
	if b.Subset() != field.Full {
		return nil
	}
	xd := x.Data()
	l.hop(&l.full, xd[l.half*l.cfg.Colors:], l.half, xd, 0, l.half, l.vol, l.cfg.Drift)
	xo := x.Odd().Data()
	for i, v := range b.Odd().Data() {
		xo[i] = (v + xo[i]) / l.diag
	}
	x.Quantize()
	return nil
}

func parityIndex(p field.Parity) int {
	if p == field.Odd {
		return 1
	}
	return 0
}

// stencil is the neighbour table of a set of sites. A negative neighbour
// index marks a Dirichlet boundary.
type stencil struct {
	n        int
	fwd, bwd [Nd][]int32
	// glob maps sites to the checkerboard index of their links.
	// It is nil when they coincide.
	glob []int32
}

func newFullStencil(g Geometry) stencil {
	vol := g.Volume()
	st := stencil{n: vol}
	for mu := 0; mu < Nd; mu++ {
		st.fwd[mu] = make([]int32, vol)
		st.bwd[mu] = make([]int32, vol)
	}
	for i := 0; i < vol; i++ {
		x := g.Coords(i)
		s := g.CB(x)
		for mu := 0; mu < Nd; mu++ {
			y := x
			y[mu]++
			st.fwd[mu][s] = int32(g.CB(y))
			y[mu] -= 2
			st.bwd[mu][s] = int32(g.CB(y))
		}
	}
	return st
}

func (st *stencil) link(s int32) int {
	if st.glob == nil {
		return int(s)
	}
	return int(st.glob[s])
}

// hop computes, for the sites s in [lo, hi) of st,
//
//	out[s-outOff] = Σ_μ (1+κ) U_μ(s) in[s+μ-inOff] + (1-κ) U_μ(s-μ)ᵀ in[s-μ-inOff]
//
// with offsets counted in sites.
func (l *Laplacian) hop(st *stencil, out []float64, outOff int, in []float64, inOff int, lo, hi int, kappa float64) {
	nc := l.cfg.Colors
	wf, wb := 1+kappa, 1-kappa
	kernel := func(lo, hi int) {
		for s := lo; s < hi; s++ {
			y := blas64.Vector{N: nc, Inc: 1, Data: out[(s-outOff)*nc : (s-outOff+1)*nc]}
			for i := range y.Data {
				y.Data[i] = 0
			}
			for mu := 0; mu < Nd; mu++ {
				if n := st.fwd[mu][s]; n >= 0 {
					g := st.link(int32(s))
					u := blas64.General{Rows: nc, Cols: nc, Stride: nc, Data: l.links[mu][g*nc*nc : (g+1)*nc*nc]}
					x := blas64.Vector{N: nc, Inc: 1, Data: in[(int(n)-inOff)*nc : (int(n)-inOff+1)*nc]}
					blas64.Gemv(gblas.NoTrans, wf, u, x, 1, y)
				}
				if n := st.bwd[mu][s]; n >= 0 {
					g := st.link(n)
					u := blas64.General{Rows: nc, Cols: nc, Stride: nc, Data: l.links[mu][g*nc*nc : (g+1)*nc*nc]}
					x := blas64.Vector{N: nc, Inc: 1, Data: in[(int(n)-inOff)*nc : (int(n)-inOff+1)*nc]}
					blas64.Gemv(gblas.Trans, wb, u, x, 1, y)
				}
			}
		}
	}

	n := hi - lo
	w := l.cfg.Workers
	if w <= 1 || n < 2*minChunk {
		kernel(lo, hi)
		return
	}
	chunk := max((n+w-1)/w, minChunk)
	var g errgroup.Group
	g.SetLimit(w)
	for s := lo; s < hi; s += chunk {
		e := min(s+chunk, hi)
		g.Go(func() error {
			kernel(s, e)
			return nil
		})
	}
	_ = g.Wait()
}
