// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"cmp"
	"math"
	"slices"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"

	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// GMRESDR implements restarted GMRES with deflated restarting (GMRES-DR) of
// Morgan for non-symmetric operators.
//
// A cycle builds an Arnoldi basis of NKrylov vectors and minimizes the
// residual over it. At the restart, the NEv harmonic Ritz vectors of
// smallest magnitude are kept in the basis together with the residual, so
// the eigencomponents that slow restarted GMRES down stay deflated for the
// remaining cycles.
type GMRESDR struct {
	base
	mat, matSloppy operator.Operator
	m, k           int

	r, xS, w *field.Field
	v, vTmp  []*field.Field

	h    []float64 // (m+1)×m projection of A, column-major
	hRot []float64 // h reduced to upper triangular form by rots
	ldh  int
	c0   []float64 // coordinates of the residual in the basis
	c    []float64 // c0 rotated by rots
	y    []float64
	rots []rotation
}

type givens struct {
	c, s float64
}

// rotation is a Givens rotation of rows i and i+1.
type rotation struct {
	i int
	g givens
}

// NewGMRESDR returns a GMRES-DR solver for mat, iterating with matSloppy. If
// matSloppy is nil, mat is used. The Krylov space has NKrylov vectors, 10 if
// NKrylov is 0, and NEv vectors are deflated.
func NewGMRESDR(p *Param, mat, matSloppy operator.Operator, prof *profile.TimeProfile, opts ...Option) *GMRESDR {
	if matSloppy == nil {
		matSloppy = mat
	}
	m := p.NKrylov
	if m <= 0 {
		m = 10
	}
	k := min(p.NEv, m-2)
	if k < 0 {
		k = 0
	}
	ldh := m + 1
	return &GMRESDR{
		base:      newBase("gmres-dr", p, prof, opts),
		mat:       mat,
		matSloppy: matSloppy,
		m:         m,
		k:         k,
		h:         make([]float64, ldh*m),
		hRot:      make([]float64, ldh*m),
		ldh:       ldh,
		c0:        make([]float64, m+1),
		c:         make([]float64, m+1),
		y:         make([]float64, m),
	}
}

// Solve implements the Solver interface.
func (g *GMRESDR) Solve(x, b *field.Field) error {
	if err := g.checkLocation(x, b); err != nil {
		return err
	}
	g.prof.Start(profile.Init)
	sloppy := g.param.sloppy()
	g.r = reuse(g.r, b, x.Precision())
	g.xS = reuse(g.xS, x, sloppy)
	g.w = reuse(g.w, b, sloppy)
	g.v = reuseSet(g.v, g.m+1, b, sloppy)
	g.vTmp = reuseSet(g.vTmp, g.m+1, b, sloppy)
	g.prof.Stop(profile.Init)

	g.begin(g.mat, g.matSloppy)
	k, err := g.solve(x, b)
	g.end(k, g.mat, g.matSloppy)
	return err
}

func (g *GMRESDR) solve(x, b *field.Field) (int, error) {
	p := g.param
	bl := g.blas

	b2 := bl.Norm2(b)
	if b2 == 0 && !p.UseInitGuess {
		g.zeroSolution(x)
		return 0, nil
	}
	var r2 float64
	if p.UseInitGuess {
		g.mat.Apply(g.r, x)
		r2 = bl.XmyNorm(b, g.r)
	} else {
		bl.Zero(x)
		bl.Copy(g.r, b)
		r2 = b2
	}
	if b2 == 0 {
		b2 = r2
	}

	stop := Stopping(p.Tol, b2, p.ResidualType)
	rel := newReliable(p, r2)
	total := 0
	kk := 0 // size of the deflation space carried into the cycle
	g.printStats(total, r2, b2, 0)
	for !g.convergenceL2(r2, stop) && total < p.MaxIter {
		if kk == 0 {
			g.restart(r2)
		}
		j := g.cycle(kk, stop, &total)

		g.update(x, j)
		g.mat.Apply(g.r, x)
		r2 = bl.XmyNorm(b, g.r) // r = b - A x
		g.printStats(total, r2, b2, 0)
		if rel.update(r2, true) {
			g.log.Warn("solver stalled", "iter", total, "res_increase_total", rel.resIncreaseTotal)
			break
		}

		kk = 0
		if j == g.m && g.k > 0 {
			var err error
			kk, err = g.deflate()
			if err != nil {
				g.log.Warn("deflation failed, restarting without", "err", err)
				kk = 0
			}
		}
	}

	if p.ComputeTrueRes {
		r2 = g.trueResidual(g.mat, x, b, g.r, b2)
	}
	g.printSummary(total, r2, b2, stop, p.TolHQ)
	return total, nil
}

// restart starts a cycle from the residual alone.
func (g *GMRESDR) restart(r2 float64) {
	beta := math.Sqrt(r2)
	g.blas.Copy(g.v[0], g.r)
	g.blas.Ax(1/beta, g.v[0])
	for i := range g.c0 {
		g.c0[i] = 0
	}
	g.c0[0] = beta
	for i := range g.h {
		g.h[i] = 0
	}
}

// cycle extends the basis from column kk to at most m columns, keeping
// hRot and c in triangular form. It returns the number of columns built.
func (g *GMRESDR) cycle(kk int, stop float64, total *int) int {
	bl := g.blas
	ldh := g.ldh
	copy(g.hRot, g.h)
	copy(g.c, g.c0)
	g.rots = g.rots[:0]

	// Reduce the deflated block, a full (kk+1)×kk matrix, to triangular
	// form.
	for j := 0; j < kk; j++ {
		col := g.hRot[j*ldh : j*ldh+ldh]
		g.applyRots(col)
		for i := kk; i > j; i-- {
			rot := rotation{i: i - 1, g: drotg(col[i-1], col[i])}
			col[i-1], col[i] = rotvec(col[i-1], col[i], rot.g)
			g.c[i-1], g.c[i] = rotvec(g.c[i-1], g.c[i], rot.g)
			g.rots = append(g.rots, rot)
		}
	}

	j := kk
	for ; j < g.m && *total < g.param.MaxIter; j++ {
		g.matSloppy.Apply(g.w, g.v[j])
		// Classical Gram-Schmidt, applied twice.
		hcol := g.h[j*ldh : j*ldh+ldh]
		for i := range hcol {
			hcol[i] = 0
		}
		for pass := 0; pass < 2; pass++ {
			dots := bl.DotBatch(g.v[:j+1], g.w)
			for i, d := range dots {
				hcol[i] += d
				dots[i] = -d
			}
			bl.MultiAxpy(dots, g.v[:j+1], g.w)
		}
		wnorm := math.Sqrt(bl.Norm2(g.w))
		hcol[j+1] = wnorm // H[j+1,j] = |w|
		*total++

		col := g.hRot[j*ldh : j*ldh+ldh]
		copy(col, hcol)
		g.applyRots(col)
		// Compute the Givens rotation that zeroes H[j+1,j] and apply it.
		rot := rotation{i: j, g: drotg(col[j], col[j+1])}
		col[j], col[j+1] = rotvec(col[j], col[j+1], rot.g)
		g.c[j], g.c[j+1] = rotvec(g.c[j], g.c[j+1], rot.g)
		g.rots = append(g.rots, rot)

		if wnorm == 0 {
			return j + 1
		}
		bl.Copy(g.v[j+1], g.w)
		bl.Ax(1/wnorm, g.v[j+1])

		// The residual norm of the projected problem is |c[j+1]|.
		if res := g.c[j+1]; res*res <= stop {
			return j + 1
		}
	}
	return j
}

func (g *GMRESDR) applyRots(col []float64) {
	for _, rot := range g.rots {
		col[rot.i], col[rot.i+1] = rotvec(col[rot.i], col[rot.i+1], rot.g)
	}
}

// update adds the solution of the projected problem over the first n basis
// vectors to x.
func (g *GMRESDR) update(x *field.Field, n int) {
	if n == 0 {
		return
	}
	y := g.y[:n]
	copy(y, g.c[:n])
	// Solve H*y = c for upper triangular H.
	// H is upper triangular but stored in column-major order while Dtrsv
	// expects row-major.
	bi := blas64.Implementation()
	bi.Dtrsv(blas.Lower, blas.Trans, blas.NonUnit, n, g.hRot, g.ldh, y, 1)
	g.blas.Zero(g.xS)
	g.blas.MultiAxpy(y, g.v[:n], g.xS)
	g.blas.Xpy(g.xS, x)
}

// deflate replaces the basis by the harmonic Ritz vectors of smallest
// magnitude and the residual of the projected problem, and projects A onto
// it. It returns the number of Ritz vectors kept.
func (g *GMRESDR) deflate() (int, error) {
	m, ldh := g.m, g.ldh
	hm := mat.NewDense(m+1, m, nil)
	for j := 0; j < m; j++ {
		for i := 0; i <= m; i++ {
			hm.Set(i, j, g.h[i+j*ldh])
		}
	}

	// Harmonic Ritz values are the eigenvalues of
	//  H_m + h²_{m+1,m} H_m^{-T} e_m e_mᵀ.
	sq := mat.DenseCopyOf(hm.Slice(0, m, 0, m))
	em := mat.NewVecDense(m, nil)
	em.SetVec(m-1, 1)
	var f mat.VecDense
	if err := f.SolveVec(sq.T(), em); err != nil {
		return 0, err
	}
	hl := g.h[m+(m-1)*ldh]
	for i := 0; i < m; i++ {
		sq.Set(i, m-1, sq.At(i, m-1)+hl*hl*f.AtVec(i))
	}
	var eig mat.Eigen
	if !eig.Factorize(sq, mat.EigenRight) {
		return 0, ErrBreakdown
	}
	vals := eig.Values(nil)
	var vecs mat.CDense
	eig.VectorsTo(&vecs)

	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(cmplxAbs(vals[a]), cmplxAbs(vals[b]))
	})

	// A complex pair contributes its real and imaginary parts.
	var cols [][]float64
	for _, i := range order {
		if len(cols) >= g.k {
			break
		}
		if imag(vals[i]) < 0 {
			continue
		}
		re := make([]float64, m+1)
		im := make([]float64, m+1)
		for r := 0; r < m; r++ {
			z := vecs.At(r, i)
			re[r], im[r] = real(z), imag(z)
		}
		cols = append(cols, re)
		if imag(vals[i]) != 0 && len(cols) < m-1 {
			cols = append(cols, im)
		}
	}
	kk := len(cols)

	// The last column is the residual of the projected problem,
	// c0 - H y.
	y := mat.NewVecDense(m, append([]float64(nil), g.y[:m]...))
	var hy mat.VecDense
	hy.MulVec(hm, y)
	res := make([]float64, m+1)
	for i := range res {
		res[i] = g.c0[i] - hy.AtVec(i)
	}
	cols = append(cols, res)

	pm := mat.NewDense(m+1, kk+1, nil)
	for j, col := range cols {
		pm.SetCol(j, col)
	}
	var qr mat.QR
	qr.Factorize(pm)
	var qFull mat.Dense
	qr.QTo(&qFull)
	q := qFull.Slice(0, m+1, 0, kk+1)

	// V ← V Q.
	bl := g.blas
	coef := make([]float64, m+1)
	for j := 0; j <= kk; j++ {
		mat.Col(coef, j, q)
		bl.Zero(g.vTmp[j])
		bl.MultiAxpy(coef, g.v[:m+1], g.vTmp[j])
	}
	for j := 0; j <= kk; j++ {
		g.v[j], g.vTmp[j] = g.vTmp[j], g.v[j]
	}

	// H ← Qᵀ H Q_k, where Q_k is Q without its last row and column.
	var hq, hNew mat.Dense
	hq.Mul(hm, q.(*mat.Dense).Slice(0, m, 0, kk))
	hNew.Mul(q.T(), &hq)
	for i := range g.h {
		g.h[i] = 0
	}
	for j := 0; j < kk; j++ {
		for i := 0; i <= kk; i++ {
			g.h[i+j*ldh] = hNew.At(i, j)
		}
	}

	// c ← Qᵀ (c0 - H y).
	var cNew mat.VecDense
	cNew.MulVec(q.T(), mat.NewVecDense(m+1, res))
	for i := range g.c0 {
		g.c0[i] = 0
	}
	for i := 0; i <= kk; i++ {
		g.c0[i] = cNew.AtVec(i)
	}
	return kk, nil
}

func cmplxAbs(z complex128) float64 {
	return math.Hypot(real(z), imag(z))
}

func drotg(a, b float64) givens {
	if b == 0 {
		return givens{c: 1, s: 0}
	}
	if math.Abs(b) > math.Abs(a) {
		tmp := -a / b
		s := 1 / math.Sqrt(1+tmp*tmp)
		return givens{c: tmp * s, s: s}
	}
	tmp := -b / a
	c := 1 / math.Sqrt(1+tmp*tmp)
	return givens{c: c, s: tmp * c}
}

func rotvec(x, y float64, g givens) (rx, ry float64) {
	rx = g.c*x - g.s*y
	ry = g.s*x + g.c*y
	return
}
