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

// BiCGstabL implements the BiCGstab(L) method of Sleijpen and Fokkema for
// non-symmetric operators. Each outer iteration performs L BiCG steps
// followed by a minimal residual step over a polynomial of degree L, which
// keeps the method converging where the degree one polynomial of BiCGstab
// stagnates. L is NKrylov, or 2 if NKrylov is 0.
type BiCGstabL struct {
	base
	mat, matSloppy operator.Operator
	l              int

	r, xS, rt *field.Field
	rs, us    []*field.Field // r_0..r_L and u_0..u_L

	tau             [][]float64
	sigma, gamma    []float64
	gammaP, gammaPP []float64
}

// NewBiCGstabL returns a BiCGstab(L) solver for mat, iterating with
// matSloppy. If matSloppy is nil, mat is used.
func NewBiCGstabL(p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, opts ...Option) *BiCGstabL {
	if matSloppy == nil {
		matSloppy = mat
	}
	l := p.NKrylov
	if l == 0 {
		l = 2
	}
	s := &BiCGstabL{
		base:      newBase("bicgstab-l", p, prof, opts),
		mat:       mat,
		matSloppy: matSloppy,
		l:         l,
		tau:       make([][]float64, l+1),
		sigma:     make([]float64, l+1),
		gamma:     make([]float64, l+1),
		gammaP:    make([]float64, l+1),
		gammaPP:   make([]float64, l+1),
	}
	for i := range s.tau {
		s.tau[i] = make([]float64, l+1)
	}
	return s
}

// Solve implements the Solver interface.
func (s *BiCGstabL) Solve(x, b *field.Field) error {
	if err := s.checkLocation(x, b); err != nil {
		return err
	}
	s.prof.Start(profile.Init)
	sloppy := s.param.sloppy()
	s.r = reuse(s.r, b, x.Precision())
	s.xS = reuse(s.xS, x, sloppy)
	s.rt = reuse(s.rt, b, sloppy)
	s.rs = reuseSet(s.rs, s.l+1, b, sloppy)
	s.us = reuseSet(s.us, s.l+1, b, sloppy)
	s.prof.Stop(profile.Init)

	s.begin(s.mat, s.matSloppy)
	k, err := s.solve(x, b)
	s.end(k, s.mat, s.matSloppy)
	return err
}

func (s *BiCGstabL) solve(x, b *field.Field) (int, error) {
	p := s.param
	bl := s.blas
	L := s.l
	r, u := s.rs, s.us

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
	bl.Copy(r[0], s.r)
	bl.Copy(s.rt, s.r)
	bl.Zero(u[0])
	bl.Zero(s.xS)

	stop := Stopping(p.Tol, b2, p.ResidualType)
	rel := newReliable(p, r2)

	rho0, alpha, omega := 1.0, 0.0, 1.0
	k := 0
	var err error
	s.printStats(k, r2, b2, 0)
outer:
	for !s.convergenceL2(r2, stop) && k < p.MaxIter {
		rho0 = -omega * rho0

		// BiCG part. The sweep ends early once r_0 meets the stopping
		// criterion: the remaining steps would divide by vanishing
		// quantities.
		steps, converged := L, false
		for j := 0; j < L; j++ {
			rho1 := bl.Dot(s.rt, r[j])
			if math.Abs(rho0) < dlamchE*dlamchE {
				k += j
				err = fmt.Errorf("%w: bicgstab-l rho", ErrBreakdown)
				break outer
			}
			beta := alpha * rho1 / rho0
			rho0 = rho1
			for i := 0; i <= j; i++ {
				bl.Xpay(r[i], -beta, u[i]) // u_i = r_i - β u_i
			}
			s.matSloppy.Apply(u[j+1], u[j])
			gamma := bl.Dot(s.rt, u[j+1])
			if gamma == 0 {
				k += j
				err = fmt.Errorf("%w: bicgstab-l gamma", ErrBreakdown)
				break outer
			}
			alpha = rho0 / gamma
			for i := 0; i <= j; i++ {
				bl.Axpy(-alpha, u[i+1], r[i])
			}
			bl.Axpy(alpha, u[0], s.xS)
			if r2 = bl.Norm2(r[0]); s.convergenceL2(r2, stop) {
				steps, converged = j+1, true
				break
			}
			s.matSloppy.Apply(r[j+1], r[j])
		}

		// MR part: modified Gram-Schmidt on r_1..r_L. A residual that
		// falls into the span of its predecessors truncates the minimal
		// residual polynomial to the degree before it.
		deg := steps
		if converged {
			deg = 0
		}
		for j := 1; j <= deg; j++ {
			nrm := bl.Norm2(r[j])
			for i := 1; i < j; i++ {
				s.tau[i][j] = bl.Dot(r[i], r[j]) / s.sigma[i]
				bl.Axpy(-s.tau[i][j], r[i], r[j])
			}
			var dot float64
			dot, s.sigma[j] = bl.DotNormB(r[0], r[j])
			if s.sigma[j] <= dlamchE*nrm {
				deg = j - 1
				break
			}
			s.gammaP[j] = dot / s.sigma[j] // γ'_j = (r_0 · r_j) / σ_j
		}
		k += steps
		if !converged && deg == 0 {
			err = fmt.Errorf("%w: bicgstab-l sigma", ErrBreakdown)
			break
		}
		if deg > 0 {
			s.minimize(deg)
			omega = s.gamma[deg]
			r2 = bl.Norm2(r[0])
		}

		updateX, updateR := rel.check(r2)
		if (converged || s.convergenceL2(r2, stop)) && p.Delta >= p.Tol {
			updateX = true
		}
		if updateX || updateR {
			bl.Xpy(s.xS, x)
			bl.Zero(s.xS)
			s.mat.Apply(s.r, x)
			r2 = bl.XmyNorm(b, s.r)
			bl.Copy(r[0], s.r)
			if rel.update(r2, updateX) {
				s.log.Warn("solver stalled", "iter", k, "res_increase_total", rel.resIncreaseTotal)
				break
			}
		}
		if converged && !s.convergenceL2(r2, stop) {
			// The iterated residual converged but the true one did not:
			// restart the recurrence from the true residual.
			rho0, alpha, omega = 1, 0, 1
			bl.Zero(u[0])
		}
		s.printStats(k, r2, b2, 0)
	}

	bl.Xpy(s.xS, x)
	if p.ComputeTrueRes {
		r2 = s.trueResidual(s.mat, x, b, s.r, b2)
	}
	s.printSummary(k, r2, b2, stop, p.TolHQ)
	return k, err
}

// minimize applies the minimal residual polynomial of degree deg to the
// solution, the residual and the search direction.
func (s *BiCGstabL) minimize(deg int) {
	bl := s.blas
	r, u := s.rs, s.us
	s.gamma[deg] = s.gammaP[deg]
	for j := deg - 1; j >= 1; j-- {
		g := s.gammaP[j]
		for i := j + 1; i <= deg; i++ {
			g -= s.tau[j][i] * s.gamma[i]
		}
		s.gamma[j] = g
	}
	for j := 1; j < deg; j++ {
		g := s.gamma[j+1]
		for i := j + 1; i < deg; i++ {
			g += s.tau[j][i] * s.gamma[i+1]
		}
		s.gammaPP[j] = g
	}

	bl.Axpy(s.gamma[1], r[0], s.xS)
	bl.Axpy(-s.gammaP[deg], r[deg], r[0])
	bl.Axpy(-s.gamma[deg], u[deg], u[0])
	for j := 1; j < deg; j++ {
		bl.Axpy(-s.gamma[j], u[j], u[0])
		bl.Axpy(s.gammaPP[j], r[j], s.xS)
		bl.Axpy(-s.gammaP[j], r[j], r[0])
	}
}
