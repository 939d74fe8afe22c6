// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// Normal solves a general system A x = b with a solver for symmetric
// positive definite systems applied to the normal equations.
//
// In the NE form the inner solver solves A A† y = b and x = A† y, which
// minimizes the error. In the NR form it solves A† A x = A† b, which
// minimizes the residual. Both report the true residual of A x = b.
type Normal struct {
	base
	mat   operator.Operator
	ne    bool
	inner Solver
	kp    *Param

	rhs, y, r *field.Field
}

type newSPD func(p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, opts ...Option) Solver

func newNormal(name string, ne bool, p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, inner newSPD, opts []Option) *Normal {
	if matSloppy == nil {
		matSloppy = mat
	}
	n := &Normal{
		base: newBase(name, p, prof, opts),
		mat:  mat,
		ne:   ne,
		kp:   p.Copy(),
	}
	if ne {
		n.inner = inner(n.kp, operator.MMdag(mat), operator.MMdag(matSloppy), nil, n.opts.asOptions()...)
	} else {
		n.inner = inner(n.kp, operator.MdagM(mat), operator.MdagM(matSloppy), nil, n.opts.asOptions()...)
	}
	return n
}

func cgSolver(p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, opts ...Option) Solver {
	return NewCG(p, mat, matSloppy, prof, opts...)
}

func cg3Solver(p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, opts ...Option) Solver {
	return NewCG3(p, mat, matSloppy, prof, opts...)
}

// NewCGNE returns CG on A A† x = b.
func NewCGNE(p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, opts ...Option) *Normal {
	return newNormal("cgne", true, p, mat, matSloppy, prof, cgSolver, opts)
}

// NewCGNR returns CG on A† A x = A† b.
func NewCGNR(p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, opts ...Option) *Normal {
	return newNormal("cgnr", false, p, mat, matSloppy, prof, cgSolver, opts)
}

// NewCG3NE returns CG3 on A A† x = b.
func NewCG3NE(p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, opts ...Option) *Normal {
	return newNormal("cg3ne", true, p, mat, matSloppy, prof, cg3Solver, opts)
}

// NewCG3NR returns CG3 on A† A x = A† b.
func NewCG3NR(p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, opts ...Option) *Normal {
	return newNormal("cg3nr", false, p, mat, matSloppy, prof, cg3Solver, opts)
}

// Solve implements the Solver interface.
func (n *Normal) Solve(x, b *field.Field) error {
	if err := n.checkLocation(x, b); err != nil {
		return err
	}
	p := n.param
	n.prof.Start(profile.Init)
	n.rhs = reuse(n.rhs, b, field.InvalidPrecision)
	n.y = reuse(n.y, x, field.InvalidPrecision)
	n.r = reuse(n.r, b, x.Precision())
	n.prof.Stop(profile.Init)

	*n.kp = *p.Copy()
	n.kp.Iter, n.kp.Secs, n.kp.Gflops = 0, 0, 0
	n.kp.ComputeTrueRes = false
	n.kp.ReturnResidual = false

	n.begin(n.mat)
	bl := n.blas
	b2 := n.global.Norm2(b)

	var err error
	if n.ne {
		rhs := b
		if p.UseInitGuess {
			n.mat.Apply(n.r, x)
			bl.XmyNorm(b, n.r) // r = b - A x_0
			rhs = n.r
		}
		n.kp.UseInitGuess = false
		n.flush(n.mat)
		err = n.inner.Solve(n.y, rhs)
		if err == nil {
			n.mat.ApplyDagger(n.rhs, n.y)
			if p.UseInitGuess {
				bl.Xpy(n.rhs, x)
			} else {
				bl.Copy(x, n.rhs)
			}
		}
	} else {
		n.mat.ApplyDagger(n.rhs, b)
		n.flush(n.mat)
		err = n.inner.Solve(x, n.rhs)
	}

	n.kp.Secs = 0
	n.kp.Update(p)
	var r2 float64
	if err == nil && p.ComputeTrueRes {
		r2 = n.trueResidual(n.mat, x, b, n.r, b2)
	}
	n.end(0, n.mat)
	if err == nil && p.ReturnResidual {
		if !p.ComputeTrueRes {
			n.mat.Apply(n.r, x)
			bl.XmyNorm(b, n.r)
		}
		bl.Copy(b, n.r)
	}
	if err == nil {
		n.printSummary(n.kp.Iter, r2, b2, Stopping(p.Tol, b2, p.ResidualType), p.TolHQ)
	}
	return err
}
