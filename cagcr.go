// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// CAGCR implements communication-avoiding GCR. Each cycle builds the power
// basis
//
//	p_0 = r, p_{i+1} = A p_i,  i < NKrylov,
//
// without intermediate reductions, then minimizes the residual over the
// span of the images A p_i by solving the normal equations
//
//	<Ap_i, Ap_j> α_j = <Ap_i, r>
//
// with one batch of reductions. The power basis becomes ill-conditioned
// quickly, so the normal equations are solved by a rank-revealing
// decomposition and NKrylov is best kept small.
type CAGCR struct {
	base
	mat, matSloppy operator.Operator
	nKrylov        int

	r, rS, xS *field.Field
	q         []*field.Field // q_i = p_i, q_{i+1} = A p_i
}

// NewCAGCR returns a CAGCR solver for mat, iterating with matSloppy. If
// matSloppy is nil, mat is used.
func NewCAGCR(p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, opts ...Option) *CAGCR {
	if matSloppy == nil {
		matSloppy = mat
	}
	n := p.NKrylov
	if n <= 0 {
		n = 4
	}
	return &CAGCR{
		base:      newBase("ca-gcr", p, prof, opts),
		mat:       mat,
		matSloppy: matSloppy,
		nKrylov:   n,
	}
}

// Solve implements the Solver interface.
func (s *CAGCR) Solve(x, b *field.Field) error {
	if err := s.checkLocation(x, b); err != nil {
		return err
	}
	s.prof.Start(profile.Init)
	sloppy := s.param.sloppy()
	s.r = reuse(s.r, b, x.Precision())
	s.rS = reuse(s.rS, b, sloppy)
	s.xS = reuse(s.xS, x, sloppy)
	s.q = reuseSet(s.q, s.nKrylov+1, b, sloppy)
	s.prof.Stop(profile.Init)

	s.begin(s.mat, s.matSloppy)
	k, err := s.solve(x, b)
	s.end(k, s.mat, s.matSloppy)
	return err
}

func (s *CAGCR) solve(x, b *field.Field) (int, error) {
	p := s.param
	bl := s.blas
	n := s.nKrylov

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

	stop := Stopping(p.Tol, b2, p.ResidualType)
	rel := newReliable(p, r2)
	k := 0
	s.printStats(k, r2, b2, 0)
	for !s.convergenceL2(r2, stop) && k < p.MaxIter {
		bl.Copy(s.q[0], s.r)
		for i := 0; i < n; i++ {
			s.matSloppy.Apply(s.q[i+1], s.q[i])
		}
		aq := s.q[1:]

		g := gram(func(i int) []float64 { return bl.DotBatch(aq, aq[i]) }, n)
		bl.Copy(s.rS, s.r)
		c := bl.DotBatch(aq, s.rS)
		alpha, err := solveSmall(g, c)
		if err != nil {
			return k, err
		}

		bl.Zero(s.xS)
		bl.MultiAxpy(alpha, s.q[:n], s.xS)
		bl.Xpy(s.xS, x)
		k += n

		s.mat.Apply(s.r, x)
		r2 = bl.XmyNorm(b, s.r)
		if rel.update(r2, true) {
			s.log.Warn("solver stalled", "iter", k, "res_increase_total", rel.resIncreaseTotal)
			break
		}
		s.printStats(k, r2, b2, 0)
	}

	if p.ComputeTrueRes {
		r2 = s.trueResidual(s.mat, x, b, s.r, b2)
	}
	s.printSummary(k, r2, b2, stop, p.TolHQ)
	return k, nil
}
