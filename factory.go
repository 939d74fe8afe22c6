// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"fmt"

	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// New returns the solver of kind p.InvType for mat. The bulk of the
// iteration uses matSloppy and the preconditioner, if any, matPrecon. A nil
// matSloppy defaults to mat and a nil matPrecon to matSloppy.
//
// Solvers that take a preconditioner (PCG, BiCGstab, GCR) get one built by
// New from p.InvTypePrecondition. A solver built as a preconditioner with
// SchwarzType set is wrapped in a Schwarz preconditioner, which requires
// mat to be an operator.Decomposer.
//
// New validates p and returns ErrUnsupported for an unknown kind.
func New(p *Param, mat, matSloppy, matPrecon operator.Operator, prof *profile.TimeProfile, opts ...Option) (Solver, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if mat == nil {
		panic("quda: nil operator")
	}
	if matSloppy == nil {
		matSloppy = mat
	}
	if matPrecon == nil {
		matPrecon = matSloppy
	}
	// Nested solvers share one backend and with it the operation counters.
	opts = buildOptions(opts).asOptions()

	if p.IsPreconditioner && p.SchwarzType != SchwarzNone {
		return newDomainSolver(p, mat, prof, opts)
	}

	var k Solver
	switch p.InvType {
	case PCGInverter, BiCGstabInverter, GCRInverter:
		var err error
		k, err = newPreconditioner(p, matPrecon, opts)
		if err != nil {
			return nil, fmt.Errorf("quda: preconditioner: %w", err)
		}
	}

	switch p.InvType {
	case CGInverter:
		return NewCG(p, mat, matSloppy, prof, opts...), nil
	case CG3Inverter:
		return NewCG3(p, mat, matSloppy, prof, opts...), nil
	case CGNEInverter:
		return NewCGNE(p, mat, matSloppy, prof, opts...), nil
	case CGNRInverter:
		return NewCGNR(p, mat, matSloppy, prof, opts...), nil
	case CG3NEInverter:
		return NewCG3NE(p, mat, matSloppy, prof, opts...), nil
	case CG3NRInverter:
		return NewCG3NR(p, mat, matSloppy, prof, opts...), nil
	case PCGInverter:
		return NewPCG(p, mat, matSloppy, matPrecon, k, prof, opts...), nil
	case BiCGInverter:
		return NewBiCG(p, mat, matSloppy, prof, opts...), nil
	case BiCGstabInverter:
		return NewBiCGstab(p, mat, matSloppy, matPrecon, k, prof, opts...), nil
	case BiCGstabLInverter:
		return NewBiCGstabL(p, mat, matSloppy, prof, opts...), nil
	case GCRInverter:
		return NewGCR(p, mat, matSloppy, matPrecon, k, prof, opts...), nil
	case CAGCRInverter:
		return NewCAGCR(p, mat, matSloppy, prof, opts...), nil
	case MRInverter:
		return NewMR(p, mat, prof, opts...), nil
	case SDInverter:
		return NewSD(p, mat, prof, opts...), nil
	case XSDInverter:
		return NewXSD(p, mat, prof, opts...)
	case GMRESDRInverter:
		return NewGMRESDR(p, mat, matSloppy, prof, opts...), nil
	case IncEigCGInverter:
		return NewIncEigCG(p, mat, matSloppy, prof, opts...), nil
	}
	return nil, fmt.Errorf("%w: solver kind %v", ErrUnsupported, p.InvType)
}

// newPreconditioner returns the preconditioner named by
// p.InvTypePrecondition, or nil if there is none.
func newPreconditioner(p *Param, matPrecon operator.Operator, opts []Option) (Solver, error) {
	if p.InvTypePrecondition == NoInverter {
		return nil, nil
	}
	return New(p.preconditioner(), matPrecon, matPrecon, matPrecon, nil, opts...)
}

// newDomainSolver wraps the solver of kind p.InvType in a Schwarz
// preconditioner over the sub-domains of mat.
func newDomainSolver(p *Param, mat operator.Operator, prof *profile.TimeProfile, opts []Option) (Solver, error) {
	dec, ok := mat.(operator.Decomposer)
	if !ok {
		return nil, fmt.Errorf("%w: %v schwarz preconditioner on an operator without sub-domains", ErrUnsupported, p.SchwarzType)
	}
	inner := func(dp *Param, op operator.Operator, opts ...Option) (Solver, error) {
		return New(dp, op, op, op, nil, opts...)
	}
	s, err := NewSchwarz(p.SchwarzType, p, mat, dec, inner, prof, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}
