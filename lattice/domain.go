// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lattice

import (
	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
)

// Domains returns the number of blocks the lattice is divided into.
func (l *Laplacian) Domains() int {
	n := 1
	for d := range l.block {
		n *= l.cfg.Dims[d] / l.block[d]
	}
	return n
}

// Domain returns block i extended by overlap sites in each blocked
// direction. Directions spanned by a single block stay periodic; the others
// get Dirichlet boundaries at the edge of the extended block.
func (l *Laplacian) Domain(i, overlap int) operator.Domain {
	if i < 0 || i >= l.Domains() {
		panic("lattice: domain index out of range")
	}
	if overlap < 0 {
		panic("lattice: negative overlap")
	}
	var (
		origin, ext, halo [Nd]int
		periodic          [Nd]bool
	)
	for d := 0; d < Nd; d++ {
		nb := l.cfg.Dims[d] / l.block[d]
		bi := i % nb
		i /= nb
		if nb == 1 {
			periodic[d] = true
			ext[d] = l.cfg.Dims[d]
			continue
		}
		halo[d] = overlap
		ext[d] = l.block[d] + 2*overlap
		if ext[d] > l.cfg.Dims[d] {
			panic("lattice: overlap exceeds the lattice extent")
		}
		origin[d] = bi*l.block[d] - overlap
	}

	box := Geometry{Dims: ext}
	n := box.Volume()
	dom := &domain{
		l:        l,
		n:        n,
		interior: make([]bool, n),
		st:       stencil{n: n, glob: make([]int32, n)},
	}
	for mu := 0; mu < Nd; mu++ {
		dom.st.fwd[mu] = make([]int32, n)
		dom.st.bwd[mu] = make([]int32, n)
	}
	for j := 0; j < n; j++ {
		y := box.Coords(j)
		var x [Nd]int
		in := true
		for d := 0; d < Nd; d++ {
			x[d] = origin[d] + y[d]
			if y[d] < halo[d] || y[d] >= halo[d]+l.block[d] {
				in = false
			}
		}
		dom.interior[j] = in
		dom.st.glob[j] = int32(l.cfg.CB(x))
		for mu := 0; mu < Nd; mu++ {
			dom.st.fwd[mu][j] = neighbour(box, y, mu, +1, periodic[mu])
			dom.st.bwd[mu][j] = neighbour(box, y, mu, -1, periodic[mu])
		}
	}
	dom.op = &boxOperator{dom: dom}
	return dom
}

func neighbour(box Geometry, y [Nd]int, mu, step int, periodic bool) int32 {
	y[mu] += step
	if !periodic && (y[mu] < 0 || y[mu] >= box.Dims[mu]) {
		return -1
	}
	return int32(box.Lex(y))
}

// domain is an extended block of the lattice. Its sites are stored in
// lexicographic order of the block coordinates.
type domain struct {
	l        *Laplacian
	n        int
	st       stencil
	interior []bool
	op       *boxOperator
}

func (d *domain) Operator() operator.Operator { return d.op }

func (d *domain) Param(full field.Param) field.Param {
	p := full
	p.Volume = d.n
	p.Subset = field.Full
	p.Parity = field.ParityNone
	return p
}

func (d *domain) Restrict(dst, src *field.Field) {
	nc := d.l.cfg.Colors
	if dst.Volume() != d.n || src.Volume() != d.l.vol {
		panic("lattice: restrict volume mismatch")
	}
	dd, sd := dst.Data(), src.Data()
	for j, g := range d.st.glob {
		copy(dd[j*nc:(j+1)*nc], sd[int(g)*nc:(int(g)+1)*nc])
	}
	dst.Quantize()
}

func (d *domain) Prolong(dst, src *field.Field) {
	nc := d.l.cfg.Colors
	if src.Volume() != d.n || dst.Volume() != d.l.vol {
		panic("lattice: prolong volume mismatch")
	}
	dd, sd := dst.Data(), src.Data()
	for j, g := range d.st.glob {
		if d.interior[j] {
			copy(dd[int(g)*nc:(int(g)+1)*nc], sd[j*nc:(j+1)*nc])
		}
	}
	dst.Quantize()
}

// boxOperator is the Laplacian restricted to a domain.
type boxOperator struct {
	dom *domain
	c   operator.Counter
}

func (b *boxOperator) Apply(out, in *field.Field) { b.apply(out, in, b.dom.l.cfg.Drift) }

func (b *boxOperator) ApplyDagger(out, in *field.Field) { b.apply(out, in, -b.dom.l.cfg.Drift) }

func (b *boxOperator) Flops() uint64 { return b.c.Flops() }

func (b *boxOperator) apply(out, in *field.Field, kappa float64) {
	l := b.dom.l
	if !field.Compatible(out, in) || out == in || in.Volume() != b.dom.n {
		panic("lattice: incompatible or aliased fields")
	}
	od, id := out.Data(), in.Data()
	l.hop(&b.dom.st, od, 0, id, 0, 0, b.dom.n, kappa)
	for i, v := range id {
		od[i] = l.diag*v - od[i]
	}
	out.Quantize()
	b.c.Add(b.dom.n * l.siteFlops())
}
