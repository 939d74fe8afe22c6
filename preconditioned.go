// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/operator"
	"github.com/kostrzewa/quda/profile"
)

// Preconditioned solves a system through a reduced system, such as the
// even/odd preconditioned one. A source covering the full domain is reduced
// by the Preparer, the inner solver solves the reduced system and the full
// solution is reconstructed. A parity source is passed to the inner solver
// unchanged.
type Preconditioned struct {
	inner Solver
	prep  operator.Preparer
	prof  *profile.TimeProfile
	log   *Logger
}

// NewPreconditioned returns a solver applying inner to the systems reduced
// by prep.
func NewPreconditioned(inner Solver, prep operator.Preparer, prof *profile.TimeProfile, opts ...Option) *Preconditioned {
	if prof == nil {
		prof = profile.New("preconditioned")
	}
	o := buildOptions(opts)
	return &Preconditioned{
		inner: inner,
		prep:  prep,
		prof:  prof,
		log:   o.logger.WithSolver("preconditioned"),
	}
}

// Solve implements the Solver interface.
func (s *Preconditioned) Solve(x, b *field.Field) error {
	s.prof.Start(profile.Preamble)
	out, in, err := s.prep.Prepare(x, b)
	s.prof.Stop(profile.Preamble)
	if err != nil {
		return err
	}
	s.log.Debug("prepared", "subset", in.Subset(), "volume", in.Volume())

	if err := s.inner.Solve(out, in); err != nil {
		return err
	}

	s.prof.Start(profile.Epilogue)
	defer s.prof.Stop(profile.Epilogue)
	return s.prep.Reconstruct(x, b)
}
