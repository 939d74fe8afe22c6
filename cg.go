// Copyright ©2016 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// CG implements the conjugate gradient method for solving
//
//	Ax = b,
//
// where A is a symmetric positive definite operator.
//
// The iteration runs with the sloppy operator on fields of precision
// PrecisionSloppy. The true residual is recomputed with the full precision
// operator whenever the iterated residual has dropped by Delta since the
// last such reliable update, and the solution accumulated in sloppy
// precision is folded into a full precision accumulator.
type CG struct {
	base
	mat, matSloppy operator.Operator

	r, y, ap *field.Field
	rSloppy  *field.Field
	xSloppy  *field.Field
	p        *field.Field
}

// NewCG returns a CG solver for mat, iterating with matSloppy. If matSloppy
// is nil, mat is used.
func NewCG(p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, opts ...Option) *CG {
	if matSloppy == nil {
		matSloppy = mat
	}
	return &CG{
		base:      newBase("cg", p, prof, opts),
		mat:       mat,
		matSloppy: matSloppy,
	}
}

func (cg *CG) init(x, b *field.Field) {
	cg.prof.Start(profile.Init)
	p := cg.param
	sloppy := p.sloppy()
	cg.r = reuse(cg.r, b, x.Precision())
	cg.y = reuse(cg.y, x, field.InvalidPrecision)
	mixed := sloppy != x.Precision()
	if mixed {
		cg.rSloppy = reuse(cg.rSloppy, b, sloppy)
	} else {
		cg.rSloppy = cg.r
	}
	if mixed && p.UseSloppyPartialAccumulator {
		cg.xSloppy = reuse(cg.xSloppy, x, sloppy)
	} else {
		cg.xSloppy = x
	}
	cg.p = reuse(cg.p, b, sloppy)
	cg.ap = reuse(cg.ap, b, sloppy)
	cg.prof.Stop(profile.Init)
}

// Solve implements the Solver interface.
func (cg *CG) Solve(x, b *field.Field) error {
	if err := cg.checkLocation(x, b); err != nil {
		return err
	}
	cg.init(x, b)
	cg.begin(cg.mat, cg.matSloppy)
	k := cg.solve(x, b)
	cg.end(k, cg.mat, cg.matSloppy)
	return nil
}

func (cg *CG) solve(x, b *field.Field) int {
	p := cg.param
	bl := cg.blas
	r, rS, xS, y := cg.r, cg.rSloppy, cg.xSloppy, cg.y

	b2 := bl.Norm2(b)
	if b2 == 0 && !p.UseInitGuess {
		cg.zeroSolution(x)
		return 0
	}

	var r2 float64
	if p.UseInitGuess {
		cg.mat.Apply(r, x)
		r2 = bl.XmyNorm(b, r) // r = b - A x_0
		bl.Copy(y, x)
	} else {
		bl.Copy(r, b)
		r2 = b2
		bl.Zero(y)
	}
	if b2 == 0 {
		b2 = r2
	}
	if r2 == 0 {
		cg.param.TrueRes, cg.param.TrueResHQ = 0, 0
		return 0
	}
	bl.Zero(x)
	if xS != x {
		bl.Zero(xS)
	}
	if rS != r {
		bl.Copy(rS, r)
	}

	stop := Stopping(p.Tol, b2, p.ResidualType)
	useHQ := cg.useHQ()
	var hq float64
	if useHQ {
		_, _, hq = bl.HeavyQuarkResidualNorm(y, r)
	}

	bl.Copy(cg.p, rS)
	rel := newReliable(p, r2)
	l2breakdown := false

	converged := func(r2, hq float64) bool {
		if l2breakdown {
			return cg.convergenceHQ(hq, p.TolHQ)
		}
		return cg.convergence(r2, hq, stop, p.TolHQ)
	}

	k := 0
	cg.printStats(k, r2, b2, hq)
	for !converged(r2, hq) && k < p.MaxIter {
		cg.matSloppy.Apply(cg.ap, cg.p)
		pAp := bl.Dot(cg.p, cg.ap)
		alpha := r2 / pAp // α = |r|² / (p · Ap)
		r2Old := r2

		// r -= α Ap; σ = <r_new, r_new - r_old>.
		var sigma float64
		r2, sigma = bl.AxpyCGNorm(-alpha, cg.ap, rS)
		if sigma < 0 {
			sigma = r2
		}

		updateX, updateR := rel.check(r2)
		if !p.SloppyConverge && converged(r2, hq) && p.Delta >= p.Tol {
			updateX = true
		}

		if !(updateR || updateX) {
			beta := sigma / r2Old // β = σ / |r_old|²
			if useHQ && (k+1)%p.HeavyQuarkCheck == 0 {
				_, _, hq = bl.XpyHeavyQuarkResidualNorm(xS, y, rS)
			}
			bl.AxpyZpbx(alpha, cg.p, xS, rS, beta) // x += α p; p = r + β p
		} else {
			bl.Axpy(alpha, cg.p, xS)
			bl.Xpy(xS, y)
			cg.mat.Apply(r, y)
			r2 = bl.XmyNorm(b, r) // r = b - A y
			if rS != r {
				bl.Copy(rS, r)
			}
			bl.Zero(xS)
			if useHQ {
				_, _, hq = bl.HeavyQuarkResidualNorm(y, r)
			}

			if rel.update(r2, updateX) && !l2breakdown {
				if !useHQ {
					cg.log.Warn("solver stalled", "iter", k+1, "res_increase_total", rel.resIncreaseTotal)
					k++
					break
				}
				cg.log.Warn("L2 solve stalled, continuing on heavy-quark residual", "iter", k+1)
				l2breakdown = true
				rel.delta = 0
				rel.forgive()
				rel.maxResIncrease++
			} else if l2breakdown && rel.resIncrease > rel.maxResIncrease {
				cg.log.Warn("heavy-quark solve stalled", "iter", k+1)
				k++
				break
			}

			// Explicitly restore the orthogonality of the search direction
			// to the new residual.
			rp := bl.Dot(rS, cg.p) / r2
			bl.Axpy(-rp, rS, cg.p)
			beta := r2 / r2Old
			bl.Xpay(rS, beta, cg.p) // p = r + β p
		}
		k++
		cg.printStats(k, r2, b2, hq)
	}

	// x = y + x_sloppy
	if xS != x {
		bl.Copy(x, xS)
	}
	bl.Xpy(y, x)

	if p.ComputeTrueRes {
		r2 = cg.trueResidual(cg.mat, x, b, r, b2)
	}
	if p.ReturnResidual {
		if !p.ComputeTrueRes {
			cg.mat.Apply(r, x)
			bl.XmyNorm(b, r)
		}
		bl.Copy(b, r)
	}
	cg.printSummary(k, r2, b2, stop, p.TolHQ)
	return k
}
