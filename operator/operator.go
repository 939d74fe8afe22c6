// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package operator describes the linear operators solvers are applied to.
//
// An Operator is a capability: it applies A, or its Hermitian conjugate A†,
// to a field. Solvers hold operators by reference and never modify them.
// Different precision tiers of the same physical operator are different
// Operator values; the precision of a result is the precision of the output
// field.
package operator

import (
	"sync/atomic"

	"github.com/kostrzewa/quda/field"
)

// Operator is the action of a square matrix A on vector fields.
type Operator interface {
	// Apply computes out = A*in. out and in must not alias.
	Apply(out, in *field.Field)

	// ApplyDagger computes out = A†*in. out and in must not alias.
	ApplyDagger(out, in *field.Field)

	// Flops returns the number of floating-point operations executed
	// since the previous call and resets the count.
	Flops() uint64
}

// Preparer reduces a linear system to a smaller one whose solution
// determines the solution of the original system, for example by even/odd
// preconditioning.
type Preparer interface {
	// Prepare returns the solution and source fields of the reduced
	// system for the system with solution x and source b. The returned
	// solution field may share storage with x.
	Prepare(x, b *field.Field) (out, in *field.Field, err error)

	// Reconstruct completes x from the solution of the reduced system
	// stored by the preceding Prepare.
	Reconstruct(x, b *field.Field) error
}

// Decomposer splits the domain of an operator into sub-domains for
// domain-decomposition preconditioning.
type Decomposer interface {
	// Domains returns the number of sub-domains.
	Domains() int

	// Domain returns sub-domain i extended by a halo of overlap sites in
	// every direction.
	Domain(i, overlap int) Domain
}

// Domain is a sub-domain of a Decomposer.
type Domain interface {
	// Operator returns the operator restricted to the sub-domain with
	// Dirichlet boundary conditions at its edge.
	Operator() Operator

	// Param returns the parameters of a field on the sub-domain, given
	// the parameters of a field on the full domain.
	Param(full field.Param) field.Param

	// Restrict copies the sites of src belonging to the sub-domain,
	// including its halo, into dst.
	Restrict(dst, src *field.Field)

	// Prolong copies the interior sites of src, a field on the
	// sub-domain, into dst, a field on the full domain.
	Prolong(dst, src *field.Field)
}

// Counter counts floating-point operations for Operator implementations.
type Counter struct {
	n atomic.Uint64
}

// Add adds n operations.
func (c *Counter) Add(n int) { c.n.Add(uint64(n)) }

// Flops returns the count and resets it.
func (c *Counter) Flops() uint64 { return c.n.Swap(0) }

func checkApply(out, in *field.Field) {
	if !field.Compatible(out, in) {
		panic("operator: incompatible fields")
	}
	if out == in {
		panic("operator: aliased fields")
	}
}
