// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// PCG implements the flexible preconditioned conjugate gradient method for
// symmetric positive definite operators. The search direction update uses
// the Polak-Ribière form
//
//	β = (r_{k+1} · (z_{k+1} - z_k)) / (r_k · z_k),
//
// which tolerates a preconditioner that changes between iterations, such
// as a few iterations of an inner solver.
type PCG struct {
	base
	mat, matSloppy, matPrecon operator.Operator
	pc                        *precond

	r, rS, xS *field.Field
	p, ap     *field.Field
	z, zOld   *field.Field
}

// NewPCG returns a PCG solver preconditioned by k. If k is nil, PCG is
// plain CG.
func NewPCG(p *Param, mat, matSloppy, matPrecon operator.Operator, k Solver, prof *profile.TimeProfile, opts ...Option) *PCG {
	if matSloppy == nil {
		matSloppy = mat
	}
	if matPrecon == nil {
		matPrecon = matSloppy
	}
	return &PCG{
		base:      newBase("pcg", p, prof, opts),
		mat:       mat,
		matSloppy: matSloppy,
		matPrecon: matPrecon,
		pc:        newPrecond(k, p, matSloppy),
	}
}

// Solve implements the Solver interface.
func (s *PCG) Solve(x, b *field.Field) error {
	if err := s.checkLocation(x, b); err != nil {
		return err
	}
	s.prof.Start(profile.Init)
	sloppy := s.param.sloppy()
	s.r = reuse(s.r, b, x.Precision())
	s.rS = reuse(s.rS, b, sloppy)
	s.xS = reuse(s.xS, x, sloppy)
	s.p = reuse(s.p, b, sloppy)
	s.ap = reuse(s.ap, b, sloppy)
	s.z = reuse(s.z, b, sloppy)
	s.zOld = reuse(s.zOld, b, sloppy)
	s.prof.Stop(profile.Init)

	s.begin(s.mat, s.matSloppy, s.matPrecon)
	k, err := s.solve(x, b)
	s.end(k, s.mat, s.matSloppy, s.matPrecon)
	return err
}

func (s *PCG) solve(x, b *field.Field) (int, error) {
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
	if r2 == 0 {
		p.TrueRes, p.TrueResHQ = 0, 0
		return 0, nil
	}
	bl.Copy(s.rS, s.r)
	bl.Zero(s.xS)

	if err := s.pc.apply(bl, s.z, s.rS); err != nil {
		return 0, err
	}
	bl.Copy(s.p, s.z)
	rz := bl.Dot(s.rS, s.z)

	stop := Stopping(p.Tol, b2, p.ResidualType)
	rel := newReliable(p, r2)
	k := 0
	s.printStats(k, r2, b2, 0)
	for !s.convergenceL2(r2, stop) && k < p.MaxIter {
		s.matSloppy.Apply(s.ap, s.p)
		alpha := rz / bl.Dot(s.p, s.ap)
		bl.Axpy(alpha, s.p, s.xS)
		r2 = bl.AxpyNorm(-alpha, s.ap, s.rS)
		k++

		updateX, updateR := rel.check(r2)
		if s.convergenceL2(r2, stop) && p.Delta >= p.Tol {
			updateX = true
		}
		if updateX || updateR {
			bl.Xpy(s.xS, x)
			bl.Zero(s.xS)
			s.mat.Apply(s.r, x)
			r2 = bl.XmyNorm(b, s.r)
			bl.Copy(s.rS, s.r)
			if rel.update(r2, updateX) {
				s.log.Warn("solver stalled", "iter", k, "res_increase_total", rel.resIncreaseTotal)
				break
			}
			if s.convergenceL2(r2, stop) {
				s.printStats(k, r2, b2, 0)
				break
			}
			if err := s.pc.apply(bl, s.z, s.rS); err != nil {
				return k, err
			}
			rzNew := bl.Dot(s.rS, s.z)
			beta := rzNew / rz
			rz = rzNew
			bl.Xpay(s.z, beta, s.p) // p = z + β p
		} else {
			s.z, s.zOld = s.zOld, s.z
			if err := s.pc.apply(bl, s.z, s.rS); err != nil {
				return k, err
			}
			rzNew := bl.Dot(s.rS, s.z)
			beta := (rzNew - bl.Dot(s.rS, s.zOld)) / rz
			rz = rzNew
			bl.Xpay(s.z, beta, s.p)
		}
		s.printStats(k, r2, b2, 0)
	}

	bl.Xpy(s.xS, x)
	if p.ComputeTrueRes {
		r2 = s.trueResidual(s.mat, x, b, s.r, b2)
	}
	s.printSummary(k, r2, b2, stop, p.TolHQ)
	return k, nil
}
