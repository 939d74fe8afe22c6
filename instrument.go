// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/metrics"
)

var tracer = otel.Tracer("github.com/kostrzewa/quda")

// Instrumented traces the solves of a solver and records their statistics.
type Instrumented struct {
	s     Solver
	param *Param
	kind  string
	rec   *metrics.Recorder
}

// Instrument wraps s, whose statistics accumulate in p. Each solve opens a
// span and the statistics it added to p are recorded in rec. rec may be
// nil.
func Instrument(s Solver, p *Param, rec *metrics.Recorder) *Instrumented {
	return &Instrumented{s: s, param: p, kind: p.InvType.String(), rec: rec}
}

// Solve implements the Solver interface.
func (in *Instrumented) Solve(x, b *field.Field) error {
	return in.SolveContext(context.Background(), x, b)
}

// SolveContext is Solve with the span started as a child of ctx.
func (in *Instrumented) SolveContext(ctx context.Context, x, b *field.Field) error {
	p := in.param
	_, span := tracer.Start(ctx, "quda.Solve", trace.WithAttributes(
		attribute.String("solver", in.kind),
		attribute.String("precision", b.Precision().String()),
		attribute.String("precision_sloppy", p.sloppy().String()),
		attribute.Int("volume", b.Volume()),
	))
	defer span.End()

	iter, secs, gflops := p.Iter, p.Secs, p.Gflops
	err := in.s.Solve(x, b)
	st := metrics.Solve{
		Iter:    p.Iter - iter,
		Secs:    p.Secs - secs,
		Gflops:  p.Gflops - gflops,
		TrueRes: p.TrueRes,
		Err:     err,
	}
	in.rec.Observe(in.kind, st)

	span.SetAttributes(
		attribute.Int("iter", st.Iter),
		attribute.Float64("true_res", st.TrueRes),
		attribute.Float64("gflops", st.Gflops),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
