// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
)

type testCase struct {
	name string
	n    int
	a    *mat.Dense
	// tol bounds the distance of the computed solution from the vector
	// of all ones.
	tol float64
}

// randomSPD returns a random symmetric positive definite matrix of order n
// with a dominant diagonal.
func randomSPD(n int, rnd *rand.Rand) testCase {
	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := rnd.Float64()
			a.Set(i, j, v)
			a.Set(j, i, v)
		}
		a.Set(i, i, a.At(i, i)+float64(n))
	}
	return testCase{name: fmt.Sprintf("randomSPD-%d", n), n: n, a: a, tol: 1e-8}
}

// randomNonsymmetric returns a random non-symmetric matrix of order n with
// a dominant diagonal.
func randomNonsymmetric(n int, rnd *rand.Rand) testCase {
	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, rnd.Float64()-0.25)
		}
		a.Set(i, i, a.At(i, i)+float64(n))
	}
	return testCase{name: fmt.Sprintf("randomNonsymmetric-%d", n), n: n, a: a, tol: 1e-8}
}

func spdCases() []testCase {
	rnd := rand.New(rand.NewSource(1))
	var cases []testCase
	for _, n := range []int{1, 2, 3, 4, 5, 10, 20, 50, 100} {
		cases = append(cases, randomSPD(n, rnd))
	}
	return cases
}

func nonsymmetricCases() []testCase {
	rnd := rand.New(rand.NewSource(1))
	var cases []testCase
	for _, n := range []int{1, 2, 3, 4, 5, 10, 20, 50, 100} {
		cases = append(cases, randomNonsymmetric(n, rnd))
	}
	return cases
}

// system returns the operator of tc and the source for which the vector of
// all ones is the solution.
func (tc testCase) system() (*operator.Dense, *field.Field) {
	want := make([]float64, tc.n)
	for i := range want {
		want[i] = 1
	}
	b := make([]float64, tc.n)
	mat.NewVecDense(tc.n, b).MulVec(tc.a, mat.NewVecDense(tc.n, want))
	return operator.NewDense(tc.a), field.NewFrom(b, 1)
}

func testParam(kind InverterType) *Param {
	p := DefaultParam()
	p.InvType = kind
	p.Tol = 1e-12
	p.MaxIter = 2000
	return p
}

// checkSolution fails unless x is within tol of the vector of all ones.
func checkSolution(t *testing.T, tc testCase, x *field.Field) {
	t.Helper()
	want := make([]float64, tc.n)
	for i := range want {
		want[i] = 1
	}
	dist := floats.Distance(x.Data(), want, math.Inf(1))
	if dist > tc.tol {
		t.Errorf("Case %v: unexpected solution, |want-got|=%v", tc.name, dist)
	}
}

// testSolver solves every case with the solver built by newSolver.
func testSolver(t *testing.T, cases []testCase, p func() *Param, newSolver func(p *Param, a operator.Operator) Solver) {
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, b := tc.system()
			param := p()
			s := newSolver(param, a)
			x := field.NewLike(b, field.InvalidPrecision)
			require.NoError(t, s.Solve(x, b))
			checkSolution(t, tc, x)
			if param.ComputeTrueRes && param.TrueRes > 100*param.Tol {
				t.Errorf("Case %v: true residual %v above tolerance %v", tc.name, param.TrueRes, param.Tol)
			}
		})
	}
}

func ones(n int) *field.Field {
	d := make([]float64, n)
	for i := range d {
		d[i] = 1
	}
	return field.NewFrom(d, 1)
}
