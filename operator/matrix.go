// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package operator

import (
	"gonum.org/v1/gonum/mat"

	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/internal/dok"
	"github.com/kostrzewa/quda/internal/triplet"
)

// Diagonal is the operator of a diagonal matrix acting on fields with one
// real per site.
type Diagonal struct {
	d []float64
	c Counter
}

// NewDiagonal returns the diagonal operator diag(d).
func NewDiagonal(d ...float64) *Diagonal {
	return &Diagonal{d: append([]float64(nil), d...)}
}

func (m *Diagonal) Apply(out, in *field.Field) {
	checkApply(out, in)
	if in.Len() != len(m.d) {
		panic("operator: dimension mismatch")
	}
	od, id := out.Data(), in.Data()
	for i, v := range id {
		od[i] = m.d[i] * v
	}
	out.Quantize()
	m.c.Add(len(id))
}

// ApplyDagger is Apply: a real diagonal matrix is symmetric.
func (m *Diagonal) ApplyDagger(out, in *field.Field) { m.Apply(out, in) }

func (m *Diagonal) Flops() uint64 { return m.c.Flops() }

// Dense is the operator of a dense matrix.
type Dense struct {
	a mat.Matrix
	n int
	c Counter
}

// NewDense returns the operator of the square matrix a.
func NewDense(a mat.Matrix) *Dense {
	r, c := a.Dims()
	if r != c {
		panic("operator: non-square matrix")
	}
	return &Dense{a: a, n: r}
}

func (m *Dense) Apply(out, in *field.Field) { m.mul(out, in, m.a) }

func (m *Dense) ApplyDagger(out, in *field.Field) { m.mul(out, in, m.a.T()) }

func (m *Dense) mul(out, in *field.Field, a mat.Matrix) {
	checkApply(out, in)
	if in.Len() != m.n {
		panic("operator: dimension mismatch")
	}
	dst := mat.NewVecDense(m.n, out.Data())
	dst.MulVec(a, mat.NewVecDense(m.n, in.Data()))
	out.Quantize()
	m.c.Add(2 * m.n * m.n)
}

func (m *Dense) Flops() uint64 { return m.c.Flops() }

// Sparse is the operator of a sparse matrix in coordinate storage.
type Sparse struct {
	m *triplet.Matrix
	c Counter
}

// NewSparse returns the operator of the square matrix assembled in a.
func NewSparse(a *dok.DOK) *Sparse {
	if a.Rows != a.Cols {
		panic("operator: non-square matrix")
	}
	m := a.Triplet()
	m.Compress()
	return &Sparse{m: m}
}

func (s *Sparse) Apply(out, in *field.Field) {
	checkApply(out, in)
	s.m.MulVec(out.Data(), in.Data())
	out.Quantize()
	s.c.Add(2 * s.m.NNZ())
}

func (s *Sparse) ApplyDagger(out, in *field.Field) {
	checkApply(out, in)
	s.m.MulTransVec(out.Data(), in.Data())
	out.Quantize()
	s.c.Add(2 * s.m.NNZ())
}

// Diagonal returns the diagonal of the matrix.
func (s *Sparse) Diagonal() []float64 { return s.m.Diagonal() }

func (s *Sparse) Flops() uint64 { return s.c.Flops() }
