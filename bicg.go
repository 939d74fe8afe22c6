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

// BiCG implements the biconjugate gradient method for solving the system of
// linear equations
//
//	Ax = b,
//
// where A is a non-symmetric operator. For symmetric positive definite
// systems use CG.
//
// BiCG applies both A and A†.
type BiCG struct {
	base
	mat, matSloppy operator.Operator

	r, xS, rS, rt *field.Field
	p, pt, q, qt  *field.Field
}

// NewBiCG returns a BiCG solver for mat, iterating with matSloppy. If
// matSloppy is nil, mat is used.
func NewBiCG(p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, opts ...Option) *BiCG {
	if matSloppy == nil {
		matSloppy = mat
	}
	return &BiCG{
		base:      newBase("bicg", p, prof, opts),
		mat:       mat,
		matSloppy: matSloppy,
	}
}

// Solve implements the Solver interface.
func (s *BiCG) Solve(x, b *field.Field) error {
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
	s.pt = reuse(s.pt, b, sloppy)
	s.q = reuse(s.q, b, sloppy)
	s.qt = reuse(s.qt, b, sloppy)
	s.prof.Stop(profile.Init)

	s.begin(s.mat, s.matSloppy)
	k, err := s.solve(x, b)
	s.end(k, s.mat, s.matSloppy)
	return err
}

func (s *BiCG) solve(x, b *field.Field) (int, error) {
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
	var rho, rhoPrev float64
	k := 0
	s.printStats(k, r2, b2, 0)
	for !s.convergenceL2(r2, stop) && k < p.MaxIter {
		rho = bl.Dot(s.rS, s.rt)
		if math.Abs(rho) < dlamchE*dlamchE {
			bl.Xpy(s.xS, x)
			return k, fmt.Errorf("%w: bicg rho", ErrBreakdown)
		}
		if k == 0 {
			bl.Copy(s.p, s.rS)
			bl.Copy(s.pt, s.rt)
		} else {
			beta := rho / rhoPrev
			bl.Xpay(s.rS, beta, s.p)  // p = r + β p
			bl.Xpay(s.rt, beta, s.pt) // pt = rt + β pt
		}
		s.matSloppy.Apply(s.q, s.p)
		s.matSloppy.ApplyDagger(s.qt, s.pt)

		alpha := rho / bl.Dot(s.pt, s.q)
		bl.Axpy(alpha, s.p, s.xS)
		r2 = bl.AxpyNorm(-alpha, s.q, s.rS)
		bl.Axpy(-alpha, s.qt, s.rt)
		rhoPrev = rho
		k++
		s.printStats(k, r2, b2, 0)
	}

	bl.Xpy(s.xS, x)
	if p.ComputeTrueRes {
		r2 = s.trueResidual(s.mat, x, b, s.r, b2)
	}
	s.printSummary(k, r2, b2, stop, p.TolHQ)
	return k, nil
}
