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

// MultiShiftCG solves the family of shifted systems
//
//	(A + σ_i) x_i = b
//
// for the shifts σ_i in Param.Offset with a single Krylov space. A must be
// Hermitian positive definite and every shift non-negative relative to the
// smallest. The smallest shift is iterated as the reference system and the
// others follow from the collinearity of the residuals,
//
//	r_i = ζ_i r,
//
// so a step costs one application of A however many shifts there are. A
// shift stops being updated once ζ_i² |r|² reaches its tolerance from
// Param.TolOffset and, if the heavy-quark residual is selected, its
// heavy-quark residual reaches the tolerance from Param.TolHQOffset.
type MultiShiftCG struct {
	base
	mat, matSloppy operator.Operator

	r, ap, t *field.Field
	p        []*field.Field
	ops      []operator.Operator
}

// NewMultiShiftCG returns a multi-shift CG solver for mat, iterating with
// matSloppy. If matSloppy is nil, mat is used.
func NewMultiShiftCG(p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, opts ...Option) *MultiShiftCG {
	if matSloppy == nil {
		matSloppy = mat
	}
	return &MultiShiftCG{
		base:      newBase("multi-shift-cg", p, prof, opts),
		mat:       mat,
		matSloppy: matSloppy,
	}
}

// Solve computes x[i] for every shift. x must hold one field per entry of
// Param.Offset. The true, iterated and heavy-quark residuals of each shift
// are stored in the Param.
func (s *MultiShiftCG) Solve(x []*field.Field, b *field.Field) error {
	n := len(s.param.Offset)
	if n == 0 || n > MaxMultiShift {
		return fmt.Errorf("%w: %d shifts", ErrInvalidParam, n)
	}
	if len(x) != n {
		panic("quda: shift count mismatch")
	}
	if err := s.checkLocation(append([]*field.Field{b}, x...)...); err != nil {
		return err
	}

	s.prof.Start(profile.Init)
	sloppy := s.param.sloppy()
	s.r = reuse(s.r, b, sloppy)
	s.ap = reuse(s.ap, b, sloppy)
	s.t = reuse(s.t, b, b.Precision())
	s.p = reuseSet(s.p, n, b, sloppy)
	s.prof.Stop(profile.Init)

	s.ops = append(s.ops[:0], s.mat, s.matSloppy)
	s.begin(s.ops...)
	k, err := s.solve(x, b)
	s.end(k, s.ops...)
	return err
}

func (s *MultiShiftCG) tol(i int) float64 {
	if i < len(s.param.TolOffset) && s.param.TolOffset[i] > 0 {
		return s.param.TolOffset[i]
	}
	return s.param.Tol
}

func (s *MultiShiftCG) tolHQ(i int) float64 {
	if i < len(s.param.TolHQOffset) && s.param.TolHQOffset[i] > 0 {
		return s.param.TolHQOffset[i]
	}
	return s.param.TolHQ
}

func (s *MultiShiftCG) solve(x []*field.Field, b *field.Field) (int, error) {
	p := s.param
	bl := s.blas
	n := len(p.Offset)

	p.TrueResOffset = resize(p.TrueResOffset, n)
	p.IterResOffset = resize(p.IterResOffset, n)
	p.TrueResHQOffset = resize(p.TrueResHQOffset, n)

	ref := 0
	for i, o := range p.Offset {
		if o < p.Offset[ref] {
			ref = i
		}
	}
	sigma := make([]float64, n)
	for i, o := range p.Offset {
		sigma[i] = o - p.Offset[ref]
	}
	refOp := operator.Shifted(s.matSloppy, p.Offset[ref])
	s.ops = append(s.ops, refOp)

	b2 := bl.Norm2(b)
	if b2 == 0 {
		for i := range x {
			bl.Zero(x[i])
		}
		p.TrueRes, p.TrueResHQ = 0, 0
		return 0, nil
	}
	bl.Copy(s.r, b)
	for i := range x {
		bl.Zero(x[i])
		bl.Copy(s.p[i], b)
	}
	r2 := b2

	stop := make([]float64, n)
	zeta := make([]float64, n)
	zetaOld := make([]float64, n)
	done := make([]bool, n)
	hq := make([]float64, n)
	for i := range stop {
		stop[i] = Stopping(s.tol(i), b2, p.ResidualType)
		zeta[i], zetaOld[i] = 1, 1
		hq[i] = math.Inf(1)
	}
	useHQ := s.useHQ()
	active := n
	alphaOld, betaOld := 1.0, 0.0

	k := 0
	s.printStats(k, r2, b2, 0)
	for active > 0 && k < p.MaxIter {
		refOp.Apply(s.ap, s.p[ref])
		pAp := bl.Dot(s.p[ref], s.ap)
		if pAp <= 0 {
			return k, fmt.Errorf("%w: multi-shift cg <p, Ap> = %v", ErrBreakdown, pAp)
		}
		alpha := r2 / pAp

		for i := range x {
			if done[i] {
				continue
			}
			den := alpha*betaOld*(zetaOld[i]-zeta[i]) + zetaOld[i]*alphaOld*(1+sigma[i]*alpha)
			z := zeta[i] * zetaOld[i] * alphaOld / den
			bl.Axpy(alpha*z/zeta[i], s.p[i], x[i])
			zetaOld[i], zeta[i] = zeta[i], z
		}

		r2New := bl.AxpyNorm(-alpha, s.ap, s.r)
		beta := r2New / r2
		for i := range x {
			if done[i] && i != ref {
				continue
			}
			q := zeta[i] / zetaOld[i]
			bl.Axpby(zeta[i], s.r, beta*q*q, s.p[i]) // p_i = ζ_i r + β_i p_i
		}
		alphaOld, betaOld, r2 = alpha, beta, r2New
		k++

		for i := range x {
			if done[i] {
				continue
			}
			ri2 := zeta[i] * zeta[i] * r2
			p.IterResOffset[i] = relative(ri2, b2)
			if useHQ && (k%p.HeavyQuarkCheck == 0 || ri2 <= stop[i]) {
				// r_i = ζ_i r
				_, _, h := bl.HeavyQuarkResidualNorm(x[i], s.r)
				hq[i] = math.Abs(zeta[i]) * h
			}
			if s.convergence(ri2, hq[i], stop[i], s.tolHQ(i)) {
				done[i] = true
				active--
				if p.Verbosity >= Verbose {
					s.log.Info("shift converged", "shift", i, "offset", p.Offset[i], "iter", k)
				}
			}
		}
		s.printStats(k, r2, b2, 0)
	}

	for i := range x {
		if !p.ComputeTrueRes {
			p.TrueResOffset[i] = p.IterResOffset[i]
			continue
		}
		op := operator.Shifted(s.mat, p.Offset[i])
		s.ops = append(s.ops, op)
		op.Apply(s.t, x[i])
		ri2 := s.global.XmyNorm(b, s.t)
		p.TrueResOffset[i] = relative(ri2, b2)
		if s.useHQ() {
			_, _, hq := s.global.HeavyQuarkResidualNorm(x[i], s.t)
			p.TrueResHQOffset[i] = hq
		}
		if p.Verbosity >= Summarize {
			s.log.Info("shift done", "shift", i, "offset", p.Offset[i],
				"iterated", p.IterResOffset[i], "true", p.TrueResOffset[i])
		}
	}
	p.TrueRes = p.TrueResOffset[ref]
	p.TrueResHQ = p.TrueResHQOffset[ref]
	s.printSummary(k, zeta[ref]*zeta[ref]*r2, b2, stop[ref], p.TolHQ)
	return k, nil
}

func resize(s []float64, n int) []float64 {
	if cap(s) < n {
		s = make([]float64, n)
	}
	s = s[:n]
	for i := range s {
		s[i] = 0
	}
	return s
}
