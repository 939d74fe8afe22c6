// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"fmt"
	"math"

	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// BiCGstab implements the BiConjugate Gradient STABilized method with right
// preconditioning for solving the system of linear equations
//
//	Ax = b,
//
// where A is a non-symmetric operator. For symmetric positive definite
// systems use CG.
//
// The iteration runs in sloppy precision with reliable updates of the
// residual as CG does.
type BiCGstab struct {
	base
	mat, matSloppy, matPrecon operator.Operator
	pc                        *precond

	r, xS, rS, rt *field.Field
	p, v, t       *field.Field
	phat, shat    *field.Field
}

// NewBiCGstab returns a BiCGstab solver preconditioned by k. If k is nil,
// no preconditioning is used.
func NewBiCGstab(p *Param, mat, matSloppy, matPrecon operator.Operator, k Solver, prof *profile.TimeProfile, opts ...Option) *BiCGstab {
	if matSloppy == nil {
		matSloppy = mat
	}
	if matPrecon == nil {
		matPrecon = matSloppy
	}
	return &BiCGstab{
		base:      newBase("bicgstab", p, prof, opts),
		mat:       mat,
		matSloppy: matSloppy,
		matPrecon: matPrecon,
		pc:        newPrecond(k, p, matSloppy),
	}
}

// Solve implements the Solver interface.
func (s *BiCGstab) Solve(x, b *field.Field) error {
	if err := s.checkLocation(x, b); err != nil {
		return err
	}
	s.prof.Start(profile.Init)
	sloppy := s.param.sloppy()
	s.r = reuse(s.r, b, x.Precision())
	s.xS = reuse(s.xS, x, sloppy)
	s.rS = reuse(s.rS, b, sloppy)
	s.rt = reuse(s.rt, b, sloppy)
	s.p = reuse(s.p, b, sloppy)
	s.v = reuse(s.v, b, sloppy)
	s.t = reuse(s.t, b, sloppy)
	if s.pc.active() {
		s.phat = reuse(s.phat, b, sloppy)
		s.shat = reuse(s.shat, b, sloppy)
	} else {
		s.phat, s.shat = s.p, s.rS
	}
	s.prof.Stop(profile.Init)

	s.begin(s.mat, s.matSloppy, s.matPrecon)
	k, err := s.solve(x, b)
	s.end(k, s.mat, s.matSloppy, s.matPrecon)
	return err
}

func (s *BiCGstab) solve(x, b *field.Field) (int, error) {
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
	bl.Copy(s.rt, s.r)
	bl.Zero(s.xS)

	stop := Stopping(p.Tol, b2, p.ResidualType)
	useHQ := s.useHQ()
	var hq float64
	if useHQ {
		_, _, hq = bl.HeavyQuarkResidualNorm(x, s.r)
	}
	rel := newReliable(p, r2)

	var rho, rhoPrev, alpha, omega float64
	k := 0
	s.printStats(k, r2, b2, hq)
	for !s.convergence(r2, hq, stop, p.TolHQ) && k < p.MaxIter {
		rho = bl.Dot(s.rt, s.rS)
		if math.Abs(rho) < dlamchE*dlamchE {
			bl.Xpy(s.xS, x)
			return k, fmt.Errorf("%w: bicgstab rho", ErrBreakdown)
		}
		if k == 0 {
			bl.Copy(s.p, s.rS)
		} else {
			beta := (rho / rhoPrev) * (alpha / omega)
			bl.Axpy(-omega, s.v, s.p) // p -= ω v
			bl.Xpay(s.rS, beta, s.p)  // p = r + β p
		}
		if s.pc.active() {
			if err := s.pc.apply(bl, s.phat, s.p); err != nil {
				return k, err
			}
		}
		s.matSloppy.Apply(s.v, s.phat)

		alpha = rho / bl.Dot(s.rt, s.v)
		r2 = bl.AxpyNorm(-alpha, s.v, s.rS) // s = r - α v
		if s.convergenceL2(r2, stop) && !useHQ {
			bl.Axpy(alpha, s.phat, s.xS)
			k++
			s.printStats(k, r2, b2, hq)
			break
		}

		if s.pc.active() {
			if err := s.pc.apply(bl, s.shat, s.rS); err != nil {
				return k, err
			}
		}
		s.matSloppy.Apply(s.t, s.shat)
		tt := bl.Norm2(s.t)
		if tt == 0 {
			bl.Axpy(alpha, s.phat, s.xS)
			bl.Xpy(s.xS, x)
			return k, fmt.Errorf("%w: bicgstab omega", ErrBreakdown)
		}
		omega = bl.Dot(s.t, s.rS) / tt
		bl.Axpy(alpha, s.phat, s.xS)
		bl.Axpy(omega, s.shat, s.xS)
		r2 = bl.AxpyNorm(-omega, s.t, s.rS)
		rhoPrev = rho
		k++

		updateX, updateR := rel.check(r2)
		if s.convergence(r2, hq, stop, p.TolHQ) && p.Delta >= p.Tol {
			updateX = true
		}
		if updateX || updateR {
			bl.Xpy(s.xS, x)
			bl.Zero(s.xS)
			s.mat.Apply(s.r, x)
			r2 = bl.XmyNorm(b, s.r)
			bl.Copy(s.rS, s.r)
			if useHQ {
				_, _, hq = bl.HeavyQuarkResidualNorm(x, s.r)
			}
			if rel.update(r2, updateX) {
				s.log.Warn("solver stalled", "iter", k, "res_increase_total", rel.resIncreaseTotal)
				break
			}
		} else if useHQ && k%p.HeavyQuarkCheck == 0 {
			_, _, hq = bl.XpyHeavyQuarkResidualNorm(s.xS, x, s.rS)
		}
		s.printStats(k, r2, b2, hq)

		if math.Abs(omega) < dlamchE*dlamchE {
			bl.Xpy(s.xS, x)
			return k, fmt.Errorf("%w: bicgstab omega", ErrBreakdown)
		}
	}

	bl.Xpy(s.xS, x)
	if p.ComputeTrueRes {
		r2 = s.trueResidual(s.mat, x, b, s.r, b2)
	}
	if p.ReturnResidual {
		if !p.ComputeTrueRes {
			s.mat.Apply(s.r, x)
			bl.XmyNorm(b, s.r)
		}
		bl.Copy(b, s.r)
	}
	s.printSummary(k, r2, b2, stop, p.TolHQ)
	return k, nil
}
