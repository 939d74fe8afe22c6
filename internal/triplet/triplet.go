// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package triplet provides a sparse matrix in coordinate (COO) storage.
package triplet

import "sort"

type triplet struct {
	i, j int
	v    float64
}

// Matrix is an r×c sparse matrix stored as a list of (i, j, v) entries.
// Duplicate entries are summed.
type Matrix struct {
	r, c int
	data []triplet
}

func New(r, c int) *Matrix {
	return &Matrix{
		r: r,
		c: c,
	}
}

func (m *Matrix) Dims() (r, c int) {
	return m.r, m.c
}

// NNZ returns the number of stored entries.
func (m *Matrix) NNZ() int {
	return len(m.data)
}

func (m *Matrix) Append(i, j int, v float64) {
	if i < 0 || m.r <= i {
		panic("row index out of range")
	}
	if j < 0 || m.c <= j {
		panic("column index out of range")
	}
	m.data = append(m.data, triplet{i, j, v})
}

// Compress sorts the entries by row and column, merges duplicates and drops
// explicit zeros.
func (m *Matrix) Compress() {
	sort.Slice(m.data, func(a, b int) bool {
		if m.data[a].i != m.data[b].i {
			return m.data[a].i < m.data[b].i
		}
		return m.data[a].j < m.data[b].j
	})
	out := m.data[:0]
	for _, t := range m.data {
		if n := len(out); n > 0 && out[n-1].i == t.i && out[n-1].j == t.j {
			out[n-1].v += t.v
			continue
		}
		out = append(out, t)
	}
	kept := out[:0]
	for _, t := range out {
		if t.v != 0 {
			kept = append(kept, t)
		}
	}
	m.data = kept
}

// Diagonal returns the diagonal of a square matrix.
func (m *Matrix) Diagonal() []float64 {
	if m.r != m.c {
		panic("non-square matrix")
	}
	d := make([]float64, m.r)
	for _, t := range m.data {
		if t.i == t.j {
			d[t.i] += t.v
		}
	}
	return d
}

// MulVec computes dst = A*x.
func (m *Matrix) MulVec(dst, x []float64) {
	if m.c != len(x) {
		panic("dimension mismatch")
	}
	if m.r != len(dst) {
		panic("dimension mismatch")
	}
	for i := range dst {
		dst[i] = 0
	}
	for _, aij := range m.data {
		dst[aij.i] += aij.v * x[aij.j]
	}
}

// MulTransVec computes dst = Aᵀ*x.
func (m *Matrix) MulTransVec(dst, x []float64) {
	if m.c != len(dst) {
		panic("dimension mismatch")
	}
	if m.r != len(x) {
		panic("dimension mismatch")
	}
	for i := range dst {
		dst[i] = 0
	}
	for _, aij := range m.data {
		dst[aij.j] += aij.v * x[aij.i]
	}
}
