// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// GCR implements the restarted generalized conjugate residual method with
// a flexible right preconditioner for non-symmetric operators.
//
// GCR keeps up to NKrylov search directions p_k and their images under A,
// orthonormalized:
//
//	Âp_k = (A p_k - Σ_{i<k} β_ik Âp_i) / γ_k
//
// The residual is reduced along each Âp_k as it is built. The solution is
// updated by solving the triangular system formed by β and γ when the
// Krylov space is full, the solve has converged, or the residual has
// dropped by Delta since the last update. The update recomputes the true
// residual.
type GCR struct {
	base
	mat, matSloppy, matPrecon operator.Operator
	pc                        *precond
	nKrylov                   int

	r, rS, xS *field.Field
	p, ap     []*field.Field

	alpha []float64
	rmat  []float64 // row-major upper triangular R, β above and γ on the diagonal
}

// NewGCR returns a GCR solver preconditioned by k. If k is nil, no
// preconditioning is used.
func NewGCR(p *Param, mat, matSloppy, matPrecon operator.Operator, k Solver, prof *profile.TimeProfile, opts ...Option) *GCR {
	if matSloppy == nil {
		matSloppy = mat
	}
	if matPrecon == nil {
		matPrecon = matSloppy
	}
	n := p.NKrylov
	if n <= 0 {
		n = 10
	}
	return &GCR{
		base:      newBase("gcr", p, prof, opts),
		mat:       mat,
		matSloppy: matSloppy,
		matPrecon: matPrecon,
		pc:        newPrecond(k, p, matSloppy),
		nKrylov:   n,
		alpha:     make([]float64, n),
		rmat:      make([]float64, n*n),
	}
}

// Solve implements the Solver interface.
func (s *GCR) Solve(x, b *field.Field) error {
	if err := s.checkLocation(x, b); err != nil {
		return err
	}
	s.prof.Start(profile.Init)
	sloppy := s.param.sloppy()
	s.r = reuse(s.r, b, x.Precision())
	s.rS = reuse(s.rS, b, sloppy)
	s.xS = reuse(s.xS, x, sloppy)
	s.p = reuseSet(s.p, s.nKrylov, x, sloppy)
	s.ap = reuseSet(s.ap, s.nKrylov, b, sloppy)
	s.prof.Stop(profile.Init)

	s.begin(s.mat, s.matSloppy, s.matPrecon)
	k, err := s.solve(x, b)
	s.end(k, s.mat, s.matSloppy, s.matPrecon)
	return err
}

func (s *GCR) solve(x, b *field.Field) (int, error) {
	p := s.param
	bl := s.blas

	b2 := bl.Norm2(b)
	if b2 == 0 && !p.UseInitGuess {
		s.zeroSolution(x)
		return 0, nil
	}
	var r2 float64
	if p.UseInitGuess {
		s.mat.Apply(s.r, x)
		r2 = bl.XmyNorm(b, s.r)
	} else {
		bl.Zero(x)
		bl.Copy(s.r, b)
		r2 = b2
	}
	if b2 == 0 {
		b2 = r2
	}
	bl.Copy(s.rS, s.r)

	stop := Stopping(p.Tol, b2, p.ResidualType)
	rel := newReliable(p, r2)
	r2Update := r2

	total := 0
	j := 0 // index in the Krylov space
	var err error
	s.printStats(total, r2, b2, 0)
	for !s.convergenceL2(r2, stop) && total < p.MaxIter {
		if err = s.pc.apply(bl, s.p[j], s.rS); err != nil {
			return total, err
		}
		s.matSloppy.Apply(s.ap[j], s.p[j])

		// A direction whose image lies in the span of the previous ones
		// ends the cycle: R would be singular.
		independent := s.orthogonalize(j)
		if independent {
			s.alpha[j] = bl.Dot(s.ap[j], s.rS)
			r2 = bl.AxpyNorm(-s.alpha[j], s.ap[j], s.rS)
			j++
		}
		total++
		if !independent && j == 0 {
			err = fmt.Errorf("%w: gcr direction", ErrBreakdown)
			break
		}

		if !independent || j == s.nKrylov || s.convergenceL2(r2, stop) || total >= p.MaxIter ||
			math.Sqrt(r2/r2Update) < p.Delta {
			s.update(x, j)
			j = 0
			s.mat.Apply(s.r, x)
			r2 = bl.XmyNorm(b, s.r)
			bl.Copy(s.rS, s.r)
			r2Update = r2
			if rel.update(r2, true) {
				s.log.Warn("solver stalled", "iter", total, "res_increase_total", rel.resIncreaseTotal)
				break
			}
		}
		s.printStats(total, r2, b2, 0)
	}

	if p.ComputeTrueRes {
		r2 = s.trueResidual(s.mat, x, b, s.r, b2)
	}
	s.printSummary(total, r2, b2, stop, p.TolHQ)
	return total, err
}

// orthogonalize orthonormalizes Ap_k against the previous images with
// classical Gram-Schmidt, recording the coefficients in R. It reports
// false if nothing of Ap_k is left.
func (s *GCR) orthogonalize(k int) bool {
	bl := s.blas
	n := s.nKrylov
	nrm := math.Sqrt(bl.Norm2(s.ap[k]))
	if k > 0 {
		beta := bl.DotBatch(s.ap[:k], s.ap[k])
		for i, bik := range beta {
			s.rmat[i*n+k] = bik
			beta[i] = -bik
		}
		bl.MultiAxpy(beta, s.ap[:k], s.ap[k])
	}
	gamma := math.Sqrt(bl.Norm2(s.ap[k]))
	if gamma == 0 || gamma <= dlamchE*nrm {
		return false
	}
	s.rmat[k*n+k] = gamma
	bl.Ax(1/gamma, s.ap[k])
	return true
}

// update adds the combination of the first k search directions minimizing
// the residual to x.
func (s *GCR) update(x *field.Field, k int) {
	y := make([]float64, k)
	copy(y, s.alpha[:k])
	// Solve R y = α for upper triangular R.
	bi := blas64.Implementation()
	bi.Dtrsv(blas.Upper, blas.NoTrans, blas.NonUnit, k, s.rmat, s.nKrylov, y, 1)
	s.blas.Zero(s.xS)
	s.blas.MultiAxpy(y, s.p[:k], s.xS)
	s.blas.Xpy(s.xS, x)
}
