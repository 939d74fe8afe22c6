// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"math"

	"github.com/kostrzewa/quda/blas"
	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// MinResExt computes an initial guess for A x = b as the combination of
// previous solutions p_i that minimizes the residual, the chronological
// guess of Brower et al.
type MinResExt struct {
	mat        operator.Operator
	orthogonal bool
	applyMat   bool
	hermitian  bool

	prof *profile.TimeProfile
	blas *blas.Backend
	log  *Logger
}

// NewMinResExt returns a guess builder for mat.
//
// If orthogonal is set, the basis is orthonormalized before the projected
// system is formed. If applyMat is set, q_i = A p_i is computed, otherwise
// q must hold it on entry. If hermitian is set, A is taken to be Hermitian
// positive definite and the guess minimizes the A-norm of the error; the
// L2 norm of the residual is minimized otherwise.
func NewMinResExt(mat operator.Operator, orthogonal, applyMat, hermitian bool, prof *profile.TimeProfile, opts ...Option) *MinResExt {
	if prof == nil {
		prof = profile.New("min-res-ext")
	}
	o := buildOptions(opts)
	return &MinResExt{
		mat:        mat,
		orthogonal: orthogonal,
		applyMat:   applyMat,
		hermitian:  hermitian,
		prof:       prof,
		blas:       o.backend,
		log:        o.logger.WithSolver("min-res-ext"),
	}
}

// Guess stores the guess built from the basis p in x. p and q must have
// the same length. With orthogonal set, p and q are overwritten by the
// orthonormalized basis. b is not modified.
func (e *MinResExt) Guess(x, b *field.Field, p, q []*field.Field) error {
	if len(p) != len(q) {
		panic("quda: basis length mismatch")
	}
	if _, err := field.CheckLocation(append(append([]*field.Field{x, b}, p...), q...)...); err != nil {
		return err
	}
	bl := e.blas
	n := len(p)
	if n == 0 {
		bl.Zero(x)
		return nil
	}

	e.prof.Start(profile.Compute)
	defer e.prof.Stop(profile.Compute)

	if e.applyMat {
		for i := range p {
			e.mat.Apply(q[i], p[i])
		}
	}

	if e.orthogonal {
		for i := 0; i < n; i++ {
			for j := 0; j < i; j++ {
				a := bl.Dot(p[j], p[i])
				bl.Axpy(-a, p[j], p[i])
				bl.Axpy(-a, q[j], q[i]) // keep q_i = A p_i
			}
			nrm := math.Sqrt(bl.Norm2(p[i]))
			if nrm == 0 {
				continue
			}
			bl.Ax(1/nrm, p[i])
			bl.Ax(1/nrm, q[i])
		}
	}

	// The projected system is <p_i, q_j> α_j = <p_i, b> for Hermitian A
	// and <q_i, q_j> α_j = <q_i, b> otherwise.
	left := q
	if e.hermitian {
		left = p
	}
	g := gram(func(i int) []float64 { return bl.DotBatch(q, left[i]) }, n)
	c := bl.DotBatch(left, b)
	alpha, err := solveSmall(g, c)
	if err != nil {
		return err
	}

	bl.Zero(x)
	bl.MultiAxpy(alpha, p, x)
	e.log.Debug("guess", "basis", n, "coefficients", alpha)
	return nil
}
