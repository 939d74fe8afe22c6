// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package quda provides iterative Krylov-subspace solvers for large sparse
// linear systems
//
//	A x = b,
//
// where A is an operator applied as a matrix-free action to vector fields.
//
// The solvers are built from the primitive operations of the blas package
// and act on the operator only through the operator.Operator capability. A
// solve may run its bulk in a reduced (sloppy) precision and correct the
// drift with reliable updates. Every solve reads its configuration from a
// Param and adds its statistics to the same Param.
//
// Solvers are constructed by New from the solver kind named in Param, or
// directly by the NewXxx functions.
package quda

import (
	"fmt"
	"math"

	"github.com/kostrzewa/quda/blas"
	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// Solver solves a linear system.
type Solver interface {
	// Solve computes x such that A x = b within the tolerance of the
	// solver's Param and adds the statistics of the solve to it.
	// Running out of iterations is not an error.
	Solve(x, b *field.Field) error
}

// Stopping returns the threshold on the squared L2 residual norm for
// tolerance tol and squared source norm b2.
func Stopping(tol, b2 float64, rt ResidualType) float64 {
	switch {
	case rt&L2Absolute != 0 && rt&L2Relative != 0:
		return math.Min(b2, 1) * tol * tol
	case rt&L2Absolute != 0:
		return tol * tol
	default:
		return b2 * tol * tol
	}
}

// base holds the state shared by every solver.
type base struct {
	name  string
	param *Param
	prof  *profile.TimeProfile
	log   *Logger
	opts  options

	// blas reduces in the scope selected by param.GlobalReduction.
	blas *blas.Backend
	// global always reduces globally. It is used for statistics.
	global *blas.Backend
}

func newBase(name string, p *Param, prof *profile.TimeProfile, opts []Option) base {
	if p == nil {
		panic("quda: nil Param")
	}
	if prof == nil {
		prof = profile.New(name)
	}
	o := buildOptions(opts)
	global := o.backend.WithScope(blas.Global)
	b := global
	if !p.GlobalReduction {
		b = o.backend.WithScope(blas.Local)
	}
	return base{
		name:   name,
		param:  p,
		prof:   prof,
		log:    o.logger.WithSolver(name),
		opts:   o,
		blas:   b,
		global: global,
	}
}

// checkLocation fails unless every field resides on the location the
// backend executes on.
func (s *base) checkLocation(fs ...*field.Field) error {
	loc, err := field.CheckLocation(fs...)
	if err != nil {
		return err
	}
	if loc != s.blas.Location() {
		return fmt.Errorf("%w: %s fields on %v", ErrUnsupported, s.name, loc)
	}
	return nil
}

// begin starts timing the compute phase. The operation counters are reset
// unless the solver is a preconditioner, whose work is counted by the
// solver it serves.
func (s *base) begin(ops ...operator.Operator) {
	if !s.param.IsPreconditioner {
		s.blas.ResetCounters()
		for _, op := range ops {
			if op != nil {
				op.Flops()
			}
		}
	}
	s.prof.Start(profile.Compute)
}

// end stops timing and adds the statistics of a solve of k iterations to
// the Param.
func (s *base) end(k int, ops ...operator.Operator) {
	s.prof.Stop(profile.Compute)
	s.param.Iter += k
	if s.param.IsPreconditioner {
		return
	}
	s.flush(ops...)
	s.param.Secs += s.prof.Last(profile.Compute).Seconds()
}

// flush adds the operations counted so far to the Param and resets the
// counters. Operators shared between tiers report their count once since
// Flops resets it.
func (s *base) flush(ops ...operator.Operator) {
	if s.param.IsPreconditioner {
		return
	}
	flops := float64(s.blas.Flops())
	for _, op := range ops {
		if op != nil {
			flops += float64(op.Flops())
		}
	}
	v := []float64{flops * 1e-9}
	s.global.Reduce(v...)
	s.param.Gflops += v[0]
	s.blas.ResetCounters()
}

// convergence reports whether every residual type selected in the Param
// satisfies its tolerance.
func (s *base) convergence(r2, hq2, r2Tol, hqTol float64) bool {
	rt := s.param.ResidualType
	if rt&HeavyQuark != 0 && hq2 > hqTol {
		return false
	}
	if rt&(L2Relative|L2Absolute) != 0 && r2 > r2Tol {
		return false
	}
	return true
}

// convergenceL2 checks the L2 criterion alone.
func (s *base) convergenceL2(r2, r2Tol float64) bool {
	return r2 <= r2Tol
}

// convergenceHQ checks the heavy-quark criterion alone.
func (s *base) convergenceHQ(hq2, hqTol float64) bool {
	return hq2 <= hqTol
}

func (s *base) useHQ() bool {
	return s.param.ResidualType&HeavyQuark != 0
}

// printStats reports iteration k.
func (s *base) printStats(k int, r2, b2, hq2 float64) {
	if s.param.Verbosity < Verbose {
		return
	}
	args := []any{"iter", k, "r2", r2, "rel", relative(r2, b2)}
	if s.useHQ() {
		args = append(args, "hq", hq2)
	}
	s.log.Info("iterate", args...)
}

// printSummary reports the outcome of a solve of k iterations.
func (s *base) printSummary(k int, r2, b2, r2Tol, hqTol float64) {
	if s.param.Verbosity < Summarize {
		return
	}
	if k >= s.param.MaxIter && !s.convergence(r2, s.param.TrueResHQ, r2Tol, hqTol) {
		s.log.Warn("exceeded maximum iterations", "max_iter", s.param.MaxIter)
	}
	args := []any{
		"iter", k,
		"iterated", relative(r2, b2),
		"true", s.param.TrueRes,
	}
	if s.useHQ() {
		args = append(args, "hq", s.param.TrueResHQ)
	}
	s.log.Info("done", args...)
}

func relative(r2, b2 float64) float64 {
	if b2 == 0 {
		return math.Sqrt(r2)
	}
	return math.Sqrt(r2 / b2)
}

// trueResidual computes r = b - A x with a full precision operator and
// records the achieved residuals in the Param.
func (s *base) trueResidual(mat operator.Operator, x, b, r *field.Field, b2 float64) float64 {
	mat.Apply(r, x)
	r2 := s.global.XmyNorm(b, r)
	s.param.TrueRes = relative(r2, b2)
	if s.useHQ() {
		_, _, hq := s.global.HeavyQuarkResidualNorm(x, r)
		s.param.TrueResHQ = hq
	}
	return r2
}

// zeroSolution handles a vanishing source.
func (s *base) zeroSolution(x *field.Field) {
	s.blas.Zero(x)
	s.param.TrueRes = 0
	s.param.TrueResHQ = 0
}

// reuse returns f if it is shaped like like in precision prec, or a new
// zeroed field otherwise. If prec is InvalidPrecision, the precision of like
// is used. f is not released since it may alias another field.
func reuse(f, like *field.Field, prec field.Precision) *field.Field {
	want := like.Param()
	if prec != field.InvalidPrecision {
		want.Precision = prec
	}
	return reuseParam(f, want)
}

// reuseParam returns f if it is described by want, or a new zeroed field.
func reuseParam(f *field.Field, want field.Param) *field.Field {
	want.Create = field.CreateZero
	if f != nil && f.Param() == want {
		return f
	}
	return field.New(want)
}

// reuseSet is reuse for a set of n fields.
func reuseSet(fs []*field.Field, n int, like *field.Field, prec field.Precision) []*field.Field {
	for len(fs) > n {
		fs[len(fs)-1].Release()
		fs = fs[:len(fs)-1]
	}
	for len(fs) < n {
		fs = append(fs, nil)
	}
	for i := range fs {
		fs[i] = reuse(fs[i], like, prec)
	}
	return fs
}

const dlamchE = 1.0 / (1 << 53)
