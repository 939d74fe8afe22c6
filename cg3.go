// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// CG3 implements the three-term recurrence form of the conjugate gradient
// method for symmetric positive definite operators. It needs no search
// direction; each iterate is a combination of the two previous ones:
//
//	x_{k+1} = ρ_k (x_k + γ_k r_k) + (1-ρ_k) x_{k-1}
//	r_{k+1} = ρ_k (r_k - γ_k A r_k) + (1-ρ_k) r_{k-1}
type CG3 struct {
	base
	mat, matSloppy operator.Operator

	r         *field.Field
	rS, rSOld *field.Field
	xS, xSOld *field.Field
	arS       *field.Field
}

// NewCG3 returns a CG3 solver for mat, iterating with matSloppy. If
// matSloppy is nil, mat is used.
func NewCG3(p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, opts ...Option) *CG3 {
	if matSloppy == nil {
		matSloppy = mat
	}
	return &CG3{
		base:      newBase("cg3", p, prof, opts),
		mat:       mat,
		matSloppy: matSloppy,
	}
}

// Solve implements the Solver interface.
func (cg *CG3) Solve(x, b *field.Field) error {
	if err := cg.checkLocation(x, b); err != nil {
		return err
	}
	cg.prof.Start(profile.Init)
	sloppy := cg.param.sloppy()
	cg.r = reuse(cg.r, b, x.Precision())
	cg.rS = reuse(cg.rS, b, sloppy)
	cg.rSOld = reuse(cg.rSOld, b, sloppy)
	cg.xS = reuse(cg.xS, x, sloppy)
	cg.xSOld = reuse(cg.xSOld, x, sloppy)
	cg.arS = reuse(cg.arS, b, sloppy)
	cg.prof.Stop(profile.Init)

	cg.begin(cg.mat, cg.matSloppy)
	k := cg.solve(x, b)
	cg.end(k, cg.mat, cg.matSloppy)
	return nil
}

func (cg *CG3) solve(x, b *field.Field) int {
	p := cg.param
	bl := cg.blas

	b2 := bl.Norm2(b)
	if b2 == 0 && !p.UseInitGuess {
		cg.zeroSolution(x)
		return 0
	}
	var r2 float64
	if p.UseInitGuess {
		cg.mat.Apply(cg.r, x)
		r2 = bl.XmyNorm(b, cg.r)
	} else {
		bl.Zero(x)
		bl.Copy(cg.r, b)
		r2 = b2
	}
	if b2 == 0 {
		b2 = r2
	}
	if r2 == 0 {
		p.TrueRes, p.TrueResHQ = 0, 0
		return 0
	}

	// x is the full precision accumulator; the sloppy iterates are
	// corrections to it.
	bl.Copy(cg.rS, cg.r)
	bl.Copy(cg.rSOld, cg.rS)
	bl.Zero(cg.xS)
	bl.Zero(cg.xSOld)

	stop := Stopping(p.Tol, b2, p.ResidualType)
	useHQ := cg.useHQ()
	var hq float64
	if useHQ {
		_, _, hq = bl.HeavyQuarkResidualNorm(x, cg.r)
	}
	rel := newReliable(p, r2)

	var rho, gamma, r2Old float64
	k := 0
	cg.printStats(k, r2, b2, hq)
	for !cg.convergence(r2, hq, stop, p.TolHQ) && k < p.MaxIter {
		cg.matSloppy.Apply(cg.arS, cg.rS)
		gammaOld := gamma
		gamma = r2 / bl.Dot(cg.rS, cg.arS) // γ = |r|² / (r · Ar)
		if k == 0 {
			rho = 1
		} else {
			rho = 1 / (1 - (gamma/gammaOld)*(r2/r2Old)/rho)
		}

		bl.Axpbypcz(rho, cg.xS, rho*gamma, cg.rS, 1-rho, cg.xSOld)
		cg.xS, cg.xSOld = cg.xSOld, cg.xS
		bl.Axpbypcz(rho, cg.rS, -rho*gamma, cg.arS, 1-rho, cg.rSOld)
		cg.rS, cg.rSOld = cg.rSOld, cg.rS

		r2Old = r2
		r2 = bl.Norm2(cg.rS)
		k++

		updateX, updateR := rel.check(r2)
		if cg.convergence(r2, hq, stop, p.TolHQ) && p.Delta >= p.Tol {
			updateX = true
		}
		if updateX || updateR {
			bl.Xpy(cg.xS, x)
			cg.mat.Apply(cg.r, x)
			r2 = bl.XmyNorm(b, cg.r)
			// Rebase the previous iterates on the new accumulator.
			bl.Mxpy(cg.xS, cg.xSOld)
			bl.Zero(cg.xS)
			bl.Mxpy(cg.rS, cg.rSOld)
			bl.Copy(cg.rS, cg.r)
			bl.Xpy(cg.rS, cg.rSOld)
			if useHQ {
				_, _, hq = bl.HeavyQuarkResidualNorm(x, cg.r)
			}
			if rel.update(r2, updateX) {
				cg.log.Warn("solver stalled", "iter", k, "res_increase_total", rel.resIncreaseTotal)
				break
			}
		} else if useHQ && k%p.HeavyQuarkCheck == 0 {
			_, _, hq = bl.XpyHeavyQuarkResidualNorm(cg.xS, x, cg.rS)
		}
		cg.printStats(k, r2, b2, hq)
	}

	bl.Xpy(cg.xS, x)
	if p.ComputeTrueRes {
		r2 = cg.trueResidual(cg.mat, x, b, cg.r, b2)
	}
	if p.ReturnResidual {
		if !p.ComputeTrueRes {
			cg.mat.Apply(cg.r, x)
			bl.XmyNorm(b, cg.r)
		}
		bl.Copy(b, cg.r)
	}
	cg.printSummary(k, r2, b2, stop, p.TolHQ)
	return k
}
