// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// IncEigCG implements incremental eigCG of Stathopoulos and Orginos for a
// sequence of right-hand sides of one Hermitian positive definite system.
//
// The first DeflationGrid solves run eigCG: CG that also extracts, from a
// search space of M Lanczos vectors restarted with 2·NEv Ritz vectors, the
// NEv eigenvectors of smallest eigenvalue. They are added to a deflation
// space U. The later solves run initCG: CG started from the Galerkin
// solution over U, restarted from a new Galerkin correction at most
// MaxRestartNum times, the first cycle stopping at IncTol.
//
// Param.RhsIdx counts the solves. The deflation space keeps the shape of
// the first source.
type IncEigCG struct {
	base
	mat, matSloppy operator.Operator
	m, nev         int

	r, rS, p, ap, t *field.Field

	v, vTmp []*field.Field // eigCG search space
	tm      []float64      // projection of A on v, m×m row-major
	idx     int            // index of the newest vector in v
	nT      int            // number of complete rows of tm

	u, au []*field.Field // deflation space and its image under A
	h     *mat.SymDense  // Uᵀ A U

	inner *CG
	kp    *Param
}

// NewIncEigCG returns an incremental eigCG solver for mat, iterating with
// matSloppy. If matSloppy is nil, mat is used.
func NewIncEigCG(p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, opts ...Option) *IncEigCG {
	if matSloppy == nil {
		matSloppy = mat
	}
	m := p.M
	if m <= 0 {
		m = 32
	}
	if m%16 != 0 {
		m = (m/16 + 1) * 16
	}
	nev := p.NEv
	if nev <= 0 {
		nev = 8
	}
	if 2*nev >= m {
		nev = (m - 1) / 2
	}
	s := &IncEigCG{
		base:      newBase("inc-eigcg", p, prof, opts),
		mat:       mat,
		matSloppy: matSloppy,
		m:         m,
		nev:       nev,
		tm:        make([]float64, m*m),
		kp:        p.Copy(),
	}
	s.inner = NewCG(s.kp, mat, matSloppy, nil, s.opts.asOptions()...)
	return s
}

// DeflationSpace returns the number of vectors in the deflation space.
func (s *IncEigCG) DeflationSpace() int { return len(s.u) }

// Solve implements the Solver interface.
func (s *IncEigCG) Solve(x, b *field.Field) error {
	if err := s.checkLocation(x, b); err != nil {
		return err
	}
	p := s.param
	s.prof.Start(profile.Init)
	sloppy := p.sloppy()
	s.r = reuse(s.r, b, x.Precision())
	s.rS = reuse(s.rS, b, sloppy)
	s.p = reuse(s.p, b, sloppy)
	s.ap = reuse(s.ap, b, sloppy)
	s.t = reuse(s.t, b, p.PrecisionRitz)
	s.prof.Stop(profile.Init)

	var err error
	if p.RhsIdx < p.DeflationGrid && len(s.u) < s.capacity() {
		s.prof.Start(profile.Init)
		s.v = reuseSet(s.v, s.m, b, sloppy)
		s.vTmp = reuseSet(s.vTmp, s.m, b, sloppy)
		s.prof.Stop(profile.Init)

		var k int
		s.begin(s.mat, s.matSloppy)
		k, err = s.eigCG(x, b)
		s.end(k, s.mat, s.matSloppy)
	} else {
		err = s.initCG(x, b)
	}
	p.RhsIdx++
	return err
}

func (s *IncEigCG) capacity() int {
	return s.nev * max(s.param.DeflationGrid, 1)
}

func (s *IncEigCG) eigCG(x, b *field.Field) (int, error) {
	p := s.param
	bl := s.blas
	m := s.m

	b2 := bl.Norm2(b)
	if b2 == 0 && !p.UseInitGuess {
		s.zeroSolution(x)
		return 0, nil
	}
	if !p.UseInitGuess {
		bl.Zero(x)
	}
	s.mat.Apply(s.r, x)
	r2 := bl.XmyNorm(b, s.r)
	if b2 == 0 {
		b2 = r2
	}
	if len(s.u) > 0 {
		if err := s.deflate(x, s.r); err != nil {
			return 0, err
		}
		s.mat.Apply(s.r, x)
		r2 = bl.XmyNorm(b, s.r)
	}
	bl.Copy(s.rS, s.r)
	bl.Copy(s.p, s.rS)

	for i := range s.tm {
		s.tm[i] = 0
	}
	s.idx, s.nT = 0, 0
	bl.Copy(s.v[0], s.rS)
	if r2 > 0 {
		bl.Ax(1/math.Sqrt(r2), s.v[0])
	}

	stop := Stopping(p.Tol, b2, p.ResidualType)
	collect := true
	restarts := 0
	alphaOld, betaOld := 1.0, 0.0
	k := 0
	s.printStats(k, r2, b2, 0)
	for !s.convergenceL2(r2, stop) && k < p.MaxIter {
		s.matSloppy.Apply(s.ap, s.p)
		pAp := bl.Dot(s.p, s.ap)
		if pAp <= 0 {
			return k, fmt.Errorf("%w: eigcg <p, Ap> = %v", ErrBreakdown, pAp)
		}
		alpha := r2 / pAp
		bl.Axpy(alpha, s.p, x)
		r2New := bl.AxpyNorm(-alpha, s.ap, s.rS)
		beta := r2New / r2

		if collect {
			// The Lanczos matrix follows from the CG coefficients.
			s.tm[s.idx*m+s.idx] = 1/alpha + betaOld/alphaOld
			s.nT = s.idx + 1
			off := -math.Sqrt(beta) / alpha
			switch {
			case s.idx < m-1:
				s.tm[s.idx*m+s.idx+1] = off
				s.tm[(s.idx+1)*m+s.idx] = off
				s.idx++
			case restarts < p.EigCGMaxRestarts:
				if err := s.restart(off); err != nil {
					return k, err
				}
				restarts++
			default:
				collect = false
			}
			if collect && r2New > 0 {
				bl.Copy(s.v[s.idx], s.rS)
				bl.Ax(1/math.Sqrt(r2New), s.v[s.idx])
			}
		}

		bl.Xpay(s.rS, beta, s.p) // p = r + β p
		alphaOld, betaOld, r2 = alpha, beta, r2New
		k++
		s.printStats(k, r2, b2, 0)
	}

	if p.ComputeTrueRes {
		r2 = s.trueResidual(s.mat, x, b, s.r, b2)
	}
	s.printSummary(k, r2, b2, stop, p.TolHQ)

	w, err := s.ritz(s.nT)
	if err != nil {
		return k, err
	}
	s.extend(w)
	if p.Verbosity >= Summarize {
		s.log.Info("deflation space", "size", len(s.u), "restarts", restarts)
	}
	return k, nil
}

// restart shrinks the full search space to the Ritz vectors of the 2·nev
// smallest Ritz values of T_m and T_{m-1}. off couples the last vector of
// the old space to the next residual.
func (s *IncEigCG) restart(off float64) error {
	m, nev := s.m, s.nev
	tm := mat.NewSymDense(m, append([]float64(nil), s.tm...))

	ym, _, err := eigenSym(tm)
	if err != nil {
		return err
	}
	ym1, _, err := eigenSym(tm.SliceSym(0, m-1))
	if err != nil {
		return err
	}

	q0 := mat.NewDense(m, 2*nev, nil)
	for j := 0; j < nev; j++ {
		for i := 0; i < m; i++ {
			q0.Set(i, j, ym.At(i, j))
			if i < m-1 {
				q0.Set(i, nev+j, ym1.At(i, j))
			}
		}
	}
	var qr mat.QR
	qr.Factorize(q0)
	var qFull mat.Dense
	qr.QTo(&qFull)
	q := qFull.Slice(0, m, 0, 2*nev)

	var tq, hq mat.Dense
	tq.Mul(tm, q)
	hq.Mul(q.T(), &tq)
	h := symmetrize(&hq)
	z, theta, err := eigenSym(h)
	if err != nil {
		return err
	}
	var y mat.Dense
	y.Mul(q, z)

	s.rotate(&y, 2*nev)
	for i := range s.tm {
		s.tm[i] = 0
	}
	for i := 0; i < 2*nev; i++ {
		s.tm[i*m+i] = theta[i]
		c := off * y.At(m-1, i)
		s.tm[i*m+2*nev] = c
		s.tm[2*nev*m+i] = c
	}
	s.idx = 2 * nev
	s.nT = 2 * nev
	return nil
}

// rotate replaces the first n vectors of the search space by V y.
func (s *IncEigCG) rotate(y *mat.Dense, n int) {
	rows, _ := y.Dims()
	coef := make([]float64, rows)
	for j := 0; j < n; j++ {
		mat.Col(coef, j, y)
		s.blas.Zero(s.vTmp[j])
		s.blas.MultiAxpy(coef, s.v[:rows], s.vTmp[j])
	}
	for j := 0; j < n; j++ {
		s.v[j], s.vTmp[j] = s.vTmp[j], s.v[j]
	}
}

// ritz returns the Ritz vectors of the nev smallest Ritz values over the
// first n vectors of the search space.
func (s *IncEigCG) ritz(n int) ([]*field.Field, error) {
	if n == 0 {
		return nil, nil
	}
	t := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			t.SetSym(i, j, s.tm[i*s.m+j])
		}
	}
	y, _, err := eigenSym(t)
	if err != nil {
		return nil, err
	}
	k := min(s.nev, n)
	coef := make([]float64, n)
	for j := 0; j < k; j++ {
		mat.Col(coef, j, y)
		s.blas.Zero(s.vTmp[j])
		s.blas.MultiAxpy(coef, s.v[:n], s.vTmp[j])
	}
	return s.vTmp[:k], nil
}

// extend orthonormalizes the vectors w against the deflation space and
// adds those that are accurate eigenvector approximations.
func (s *IncEigCG) extend(w []*field.Field) {
	p := s.param
	bl := s.blas
	for _, wi := range w {
		if len(s.u) >= s.capacity() {
			break
		}
		u := field.NewLike(wi, p.PrecisionRitz)
		bl.Copy(u, wi)
		for pass := 0; pass < 2 && len(s.u) > 0; pass++ {
			dots := bl.DotBatch(s.u, u)
			for i := range dots {
				dots[i] = -dots[i]
			}
			bl.MultiAxpy(dots, s.u, u)
		}
		nrm := math.Sqrt(bl.Norm2(u))
		if nrm < 1e-8 {
			u.Release()
			continue
		}
		bl.Ax(1/nrm, u)

		au := field.NewLike(u, p.PrecisionRitz)
		s.mat.Apply(au, u)
		theta := bl.Dot(u, au)
		bl.Copy(s.t, au)
		res := math.Sqrt(bl.AxpyNorm(-theta, u, s.t))
		if p.EigenvalTol > 0 && res > p.EigenvalTol*math.Abs(theta) {
			s.log.Debug("ritz vector rejected", "theta", theta, "res", res)
			u.Release()
			au.Release()
			continue
		}
		s.u = append(s.u, u)
		s.au = append(s.au, au)
	}

	n := len(s.u)
	if n == 0 {
		s.h = nil
		return
	}
	s.h = mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		row := bl.DotBatch(s.u, s.au[i])
		for j := i; j < n; j++ {
			s.h.SetSym(i, j, row[j])
		}
	}
}

// deflate adds the Galerkin solution of A e = r over the deflation space to
// x.
func (s *IncEigCG) deflate(x, r *field.Field) error {
	n := len(s.u)
	c := s.blas.DotBatch(s.u, r)
	var alpha []float64
	var ch mat.Cholesky
	if ch.Factorize(s.h) {
		var a mat.VecDense
		if err := ch.SolveVecTo(&a, mat.NewVecDense(n, c)); err != nil {
			return fmt.Errorf("%w: deflation: %v", ErrBreakdown, err)
		}
		alpha = a.RawVector().Data
	} else {
		var err error
		alpha, err = solveSmall(mat.DenseCopyOf(s.h), c)
		if err != nil {
			return err
		}
	}
	s.blas.MultiAxpy(alpha, s.u, x)
	return nil
}

func (s *IncEigCG) initCG(x, b *field.Field) error {
	p := s.param
	bl := s.blas

	*s.kp = *p.Copy()
	s.kp.InvType = CGInverter
	s.kp.Iter, s.kp.Secs, s.kp.Gflops = 0, 0, 0
	s.kp.ComputeTrueRes = false
	s.kp.ReturnResidual = false
	s.kp.UseInitGuess = true

	s.begin(s.mat, s.matSloppy)
	b2 := s.global.Norm2(b)
	if b2 == 0 && !p.UseInitGuess {
		s.zeroSolution(x)
		s.end(0, s.mat, s.matSloppy)
		return nil
	}
	if !p.UseInitGuess {
		bl.Zero(x)
	}

	tol := p.Tol
	if len(s.u) > 0 && p.IncTol > p.Tol {
		tol = p.IncTol
	}
	var r2, stop float64
	var err error
	for cycle := 0; ; cycle++ {
		s.mat.Apply(s.r, x)
		r2 = bl.XmyNorm(b, s.r)
		if b2 == 0 {
			b2 = r2
		}
		stop = Stopping(p.Tol, b2, p.ResidualType)
		if s.convergenceL2(r2, stop) || cycle > p.MaxRestartNum {
			break
		}
		if len(s.u) > 0 {
			if err = s.deflate(x, s.r); err != nil {
				break
			}
		}
		s.kp.Tol = tol
		s.flush(s.mat, s.matSloppy)
		if err = s.inner.Solve(x, b); err != nil {
			break
		}
		if p.Verbosity >= Verbose {
			s.log.Info("initcg cycle", "cycle", cycle, "tol", tol, "iter", s.kp.Iter)
		}
		if p.TolRestart > p.Tol && tol > p.TolRestart {
			tol = p.TolRestart
		} else {
			tol = p.Tol
		}
	}

	s.kp.Secs = 0
	s.kp.Update(p)
	if err == nil && p.ComputeTrueRes {
		r2 = s.trueResidual(s.mat, x, b, s.r, b2)
	}
	s.end(0, s.mat, s.matSloppy)
	if err == nil {
		s.printSummary(s.kp.Iter, r2, b2, stop, p.TolHQ)
	}
	return err
}

// eigenSym returns the eigenvectors and eigenvalues of a in ascending
// order of the eigenvalues.
func eigenSym(a mat.Symmetric) (*mat.Dense, []float64, error) {
	var es mat.EigenSym
	if !es.Factorize(a, true) {
		return nil, nil, fmt.Errorf("%w: eigendecomposition", ErrBreakdown)
	}
	var v mat.Dense
	es.VectorsTo(&v)
	return &v, es.Values(nil), nil
}

func symmetrize(a *mat.Dense) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
	return s
}
