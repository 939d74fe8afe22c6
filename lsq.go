// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// rcond is the relative cutoff below which singular values of a projected
// system are treated as zero.
const rcond = 1e-14

// solveSmall returns the minimum norm least-squares solution of the small
// dense system g x = c. Singular values below rcond times the largest are
// discarded. If the decomposition fails, Gaussian elimination with partial
// pivoting is used instead.
func solveSmall(g *mat.Dense, c []float64) ([]float64, error) {
	n, _ := g.Dims()
	rhs := mat.NewVecDense(n, append([]float64(nil), c...))
	var x mat.VecDense

	var svd mat.SVD
	if svd.Factorize(g, mat.SVDThin) {
		if rank := svd.Rank(rcond); rank > 0 {
			svd.SolveVecTo(&x, rhs, rank)
			return x.RawVector().Data, nil
		}
		// A zero system has the zero solution.
		return make([]float64, n), nil
	}

	var lu mat.LU
	lu.Factorize(g)
	if err := lu.SolveVecTo(&x, false, rhs); err != nil {
		return nil, fmt.Errorf("%w: projected system: %v", ErrBreakdown, err)
	}
	return x.RawVector().Data, nil
}

// gram returns the matrix of inner products <a_i, b_j> as a dense matrix.
func gram(dots func(i int) []float64, n int) *mat.Dense {
	g := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		g.SetRow(i, dots(i))
	}
	return g
}
