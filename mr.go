// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"math"

	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// MR implements the minimal residual method. Each iteration minimizes the
// residual along the current residual direction:
//
//	α = (Ar · r) / (Ar · Ar)
//	x += ω α r
//	r -= ω α Ar
//
// MR runs for MaxIter iterations or until the residual vanishes. It does
// not test for convergence and is mostly used as a smoother or as the
// preconditioner of another solver.
//
// When GlobalReduction is false the reductions of the iteration stay on the
// local node, which makes MR a block-local solver in domain-decomposition
// preconditioning. The residual is normalized before iterating so that
// extreme source magnitudes neither underflow nor overflow.
type MR struct {
	base
	mat operator.Operator

	r, ar, x0 *field.Field
}

// NewMR returns an MR solver for mat.
func NewMR(p *Param, mat operator.Operator, prof *profile.TimeProfile, opts ...Option) *MR {
	return &MR{
		base: newBase("mr", p, prof, opts),
		mat:  mat,
	}
}

// Solve implements the Solver interface. Unless PreserveSource or
// UseInitGuess is set, an MR preconditioner uses b as its residual and
// overwrites it.
func (mr *MR) Solve(x, b *field.Field) error {
	if err := mr.checkLocation(x, b); err != nil {
		return err
	}
	p := mr.param

	mr.prof.Start(profile.Init)
	r := b
	if p.PreserveSource || p.UseInitGuess || !p.IsPreconditioner {
		mr.r = reuse(mr.r, b, field.InvalidPrecision)
		r = mr.r
	}
	mr.ar = reuse(mr.ar, b, field.InvalidPrecision)
	if p.UseInitGuess {
		mr.x0 = reuse(mr.x0, x, field.InvalidPrecision)
	}
	mr.prof.Stop(profile.Init)

	mr.begin(mr.mat)
	k := mr.solve(x, b, r)
	mr.end(k, mr.mat)
	return nil
}

func (mr *MR) solve(x, b, r *field.Field) int {
	p := mr.param
	bl := mr.blas

	var b2 float64
	if !p.IsPreconditioner {
		b2 = mr.global.Norm2(b)
	}
	var r2 float64
	if p.UseInitGuess {
		mr.mat.Apply(r, x)
		r2 = bl.XmyNorm(b, r) // r = b - A x_0
		bl.Copy(mr.x0, x)
	} else {
		if r != b {
			bl.Copy(r, b)
		}
		r2 = bl.Norm2(r)
	}
	bl.Zero(x)

	if r2 == 0 && !p.UseInitGuess {
		mr.zeroSolution(x)
		return 0
	}

	// Domain-wise rescaling.
	c2 := r2
	if r2 > 0 {
		bl.Ax(1/math.Sqrt(r2), r)
		r2 = 1
	}

	omega := p.omega()
	k := 0
	for k < p.MaxIter && r2 > 0 {
		mr.mat.Apply(mr.ar, r)
		arR, ar2 := bl.DotNormA(mr.ar, r)
		if ar2 == 0 {
			break
		}
		alpha := arR / ar2
		bl.AxpyXmaz(omega*alpha, r, x, mr.ar) // x += ωα r; r -= ωα Ar
		r2 = bl.Norm2(r)
		k++
		if p.Verbosity >= DebugVerbose {
			mr.log.Debug("mr step", "iter", k, "alpha", alpha, "ar2", ar2)
		}
		mr.printStats(k, r2*c2, b2, 0)
	}

	if c2 > 0 {
		bl.Ax(math.Sqrt(c2), x)
	}
	if p.UseInitGuess {
		bl.Xpy(mr.x0, x)
	}

	if !p.IsPreconditioner {
		r2 *= c2
		if p.ComputeTrueRes {
			r2 = mr.trueResidual(mr.mat, x, b, r, b2)
		}
		mr.printSummary(k, r2, b2, Stopping(p.Tol, b2, p.ResidualType), p.TolHQ)
	}
	return k
}
