// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// SD implements steepest descent for symmetric positive definite operators:
//
//	α = (r · r) / (r · Ar)
//	x += ω α r
//	r -= ω α Ar
//
// Like MR it runs a fixed number of iterations and is used as a smoother.
type SD struct {
	base
	mat operator.Operator

	r, ar *field.Field
}

// NewSD returns an SD solver for mat.
func NewSD(p *Param, mat operator.Operator, prof *profile.TimeProfile, opts ...Option) *SD {
	return &SD{
		base: newBase("sd", p, prof, opts),
		mat:  mat,
	}
}

// Solve implements the Solver interface.
func (sd *SD) Solve(x, b *field.Field) error {
	if err := sd.checkLocation(x, b); err != nil {
		return err
	}
	sd.prof.Start(profile.Init)
	sd.r = reuse(sd.r, b, field.InvalidPrecision)
	sd.ar = reuse(sd.ar, b, field.InvalidPrecision)
	sd.prof.Stop(profile.Init)

	sd.begin(sd.mat)
	k := sd.solve(x, b)
	sd.end(k, sd.mat)
	return nil
}

func (sd *SD) solve(x, b *field.Field) int {
	p := sd.param
	bl := sd.blas

	var r2 float64
	if p.UseInitGuess {
		sd.mat.Apply(sd.r, x)
		r2 = bl.XmyNorm(b, sd.r)
	} else {
		bl.Zero(x)
		bl.Copy(sd.r, b)
		r2 = bl.Norm2(sd.r)
	}
	b2 := r2
	if !p.IsPreconditioner {
		b2 = sd.global.Norm2(b)
	}
	if r2 == 0 {
		if !p.UseInitGuess {
			sd.zeroSolution(x)
		}
		return 0
	}

	omega := p.omega()
	k := 0
	for k < p.MaxIter && r2 > 0 {
		sd.mat.Apply(sd.ar, sd.r)
		rAr := bl.Dot(sd.r, sd.ar)
		if rAr == 0 {
			break
		}
		alpha := omega * r2 / rAr
		bl.AxpyXmaz(alpha, sd.r, x, sd.ar)
		r2 = bl.Norm2(sd.r)
		k++
		sd.printStats(k, r2, b2, 0)
	}

	if !p.IsPreconditioner {
		if p.ComputeTrueRes {
			r2 = sd.trueResidual(sd.mat, x, b, sd.r, b2)
		}
		sd.printSummary(k, r2, b2, Stopping(p.Tol, b2, p.ResidualType), p.TolHQ)
	}
	return k
}

// NewXSD returns steepest descent extended over overlapping sub-domains:
// when mat is an operator.Decomposer, SD runs independently on every
// sub-domain extended by OverlapPrecondition sites, and the interiors of
// the sub-domain solutions are combined. Otherwise it is SD.
func NewXSD(p *Param, mat operator.Operator, prof *profile.TimeProfile, opts ...Option) (Solver, error) {
	dec, ok := mat.(operator.Decomposer)
	if !ok {
		return NewSD(p, mat, prof, opts...), nil
	}
	inner := func(dp *Param, op operator.Operator, opts ...Option) (Solver, error) {
		return NewSD(dp, op, nil, opts...), nil
	}
	s, err := newSchwarz("xsd", SchwarzAdditive, p, mat, dec, inner, prof, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}
