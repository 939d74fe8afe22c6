// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"github.com/kostrzewa/quda/blas"
	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
)

// precond applies a preconditioner K, converting to and from the precision
// K works in. With a nil K it is the identity.
type precond struct {
	k    Solver
	prec field.Precision

	// mat and cycles describe refinement: after the first application K
	// is applied cycles-1 more times to the remaining residual.
	mat    operator.Operator
	cycles int

	in, out, t *field.Field
}

func newPrecond(k Solver, p *Param, mat operator.Operator) *precond {
	return &precond{
		k:      k,
		prec:   p.PrecisionPrecondition,
		mat:    mat,
		cycles: p.PreconditionCycle,
	}
}

// apply computes z = K r.
func (pc *precond) apply(bl *blas.Backend, z, r *field.Field) error {
	if pc == nil || pc.k == nil {
		bl.Copy(z, r)
		return nil
	}
	pc.in = reuse(pc.in, r, pc.prec)
	pc.out = reuse(pc.out, r, pc.prec)
	bl.Copy(pc.in, r)
	bl.Zero(pc.out)
	if err := pc.k.Solve(pc.out, pc.in); err != nil {
		return err
	}
	bl.Copy(z, pc.out)

	for c := 1; c < pc.cycles && pc.mat != nil; c++ {
		pc.t = reuse(pc.t, r, field.InvalidPrecision)
		pc.mat.Apply(pc.t, z)
		bl.Xpay(r, -1, pc.t) // t = r - A z
		bl.Copy(pc.in, pc.t)
		bl.Zero(pc.out)
		if err := pc.k.Solve(pc.out, pc.in); err != nil {
			return err
		}
		bl.Copy(pc.t, pc.out)
		bl.Xpy(pc.t, z)
	}
	return nil
}

func (pc *precond) active() bool { return pc != nil && pc.k != nil }
