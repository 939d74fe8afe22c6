// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"fmt"

	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// InnerFunc constructs the solver of one sub-domain with Param p for the
// sub-domain operator mat.
type InnerFunc func(p *Param, mat operator.Operator, opts ...Option) (Solver, error)

// Schwarz is a domain-decomposition preconditioner. It solves the system
// restricted to every sub-domain of a Decomposer, extended by
// OverlapPrecondition sites, with an independent inner solver reducing
// locally, and combines the interiors of the sub-domain solutions.
//
// The additive form solves all sub-domains on the same source. The
// multiplicative form recomputes the residual with the full operator after
// each sub-domain and solves the next sub-domain on it.
type Schwarz struct {
	base
	kind SchwarzType
	mat  operator.Operator
	kp   *Param
	ops  []operator.Operator

	domains []*subdomain
	r, t    *field.Field
}

type subdomain struct {
	d    operator.Domain
	s    Solver
	x, b *field.Field
}

// NewSchwarz returns a Schwarz preconditioner of the given kind for mat,
// whose sub-domains are provided by dec. The sub-domain solvers are built
// by inner from a copy of p reducing locally.
func NewSchwarz(kind SchwarzType, p *Param, mat operator.Operator, dec operator.Decomposer, inner InnerFunc, prof *profile.TimeProfile, opts ...Option) (*Schwarz, error) {
	return newSchwarz("schwarz", kind, p, mat, dec, inner, prof, opts)
}

func newSchwarz(name string, kind SchwarzType, p *Param, mat operator.Operator, dec operator.Decomposer, inner InnerFunc, prof *profile.TimeProfile, opts []Option) (*Schwarz, error) {
	if kind != SchwarzAdditive && kind != SchwarzMultiplicative {
		return nil, fmt.Errorf("%w: schwarz type %v", ErrUnsupported, kind)
	}
	if p.OverlapPrecondition < 0 {
		return nil, fmt.Errorf("%w: negative overlap %d", ErrInvalidParam, p.OverlapPrecondition)
	}
	s := &Schwarz{
		base: newBase(name, p, prof, opts),
		kind: kind,
		mat:  mat,
		ops:  []operator.Operator{mat},
	}

	kp := p.Copy()
	kp.SchwarzType = SchwarzNone
	kp.GlobalReduction = false
	kp.IsPreconditioner = true
	kp.UseInitGuess = false
	kp.ComputeTrueRes = false
	kp.ReturnResidual = false
	kp.Iter, kp.Secs, kp.Gflops = 0, 0, 0
	s.kp = kp

	for i := 0; i < dec.Domains(); i++ {
		d := dec.Domain(i, p.OverlapPrecondition)
		ds, err := inner(kp, d.Operator(), s.opts.asOptions()...)
		if err != nil {
			return nil, fmt.Errorf("quda: sub-domain %d: %w", i, err)
		}
		s.domains = append(s.domains, &subdomain{d: d, s: ds})
		s.ops = append(s.ops, d.Operator())
	}
	return s, nil
}

// Solve implements the Solver interface.
func (s *Schwarz) Solve(x, b *field.Field) error {
	if err := s.checkLocation(x, b); err != nil {
		return err
	}
	p := s.param
	s.prof.Start(profile.Init)
	for _, sd := range s.domains {
		dp := sd.d.Param(b.Param())
		sd.b = reuseParam(sd.b, dp)
		sd.x = reuseParam(sd.x, dp)
	}
	s.r = reuse(s.r, b, field.InvalidPrecision)
	s.t = reuse(s.t, x, field.InvalidPrecision)
	s.prof.Stop(profile.Init)

	s.begin(s.ops...)
	k, err := s.sweep(x, b)
	if err == nil && !p.IsPreconditioner {
		b2 := s.global.Norm2(b)
		var r2 float64
		if p.ComputeTrueRes {
			r2 = s.trueResidual(s.mat, x, b, s.r, b2)
		}
		s.printSummary(k, r2, b2, Stopping(p.Tol, b2, p.ResidualType), p.TolHQ)
	}
	s.end(k, s.ops...)
	return err
}

// sweep solves every sub-domain once. It returns the largest number of
// iterations a sub-domain solver took.
func (s *Schwarz) sweep(x, b *field.Field) (int, error) {
	bl := s.blas
	bl.Zero(x)
	src := b
	if s.kind == SchwarzMultiplicative {
		bl.Copy(s.r, b)
		src = s.r
	}

	var k int
	for i, sd := range s.domains {
		sd.d.Restrict(sd.b, src)
		bl.Zero(sd.x)
		s.kp.Iter = 0
		if err := sd.s.Solve(sd.x, sd.b); err != nil {
			return k, fmt.Errorf("quda: sub-domain %d: %w", i, err)
		}
		k = max(k, s.kp.Iter)

		switch s.kind {
		case SchwarzAdditive:
			// The interiors tile the domain, so prolonging every
			// sub-domain solution writes each site once.
			sd.d.Prolong(x, sd.x)
		case SchwarzMultiplicative:
			bl.Zero(s.t)
			sd.d.Prolong(s.t, sd.x)
			bl.Xpy(s.t, x)
			s.mat.Apply(s.t, x)
			bl.Copy(s.r, b)
			bl.Mxpy(s.t, s.r) // r = b - A x
		}
	}
	s.kp.Iter = 0
	return k, nil
}
