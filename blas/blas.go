// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blas provides the primitive vector-field operations linear solvers
// are built from: copies, the axpy family of linear combinations, fused
// updates and reductions.
//
// Every operation that writes a field rounds the result to the precision of
// that field, so arithmetic on reduced precision fields accumulates rounding
// the way it would on hardware storing them natively. Reductions are
// accumulated in double precision.
//
// A Backend reduces either globally, passing every partial reduction through
// its Communicator, or locally, keeping the partial result of this node. The
// scope is a property of the Backend value, so a solver acting as a
// domain-decomposition preconditioner holds a local Backend while the outer
// solver holds a global one, and there is no shared flag to restore.
package blas

import (
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"

	"github.com/kostrzewa/quda/comm"
	"github.com/kostrzewa/quda/field"
)

// Scope selects where reductions are aggregated.
type Scope int

const (
	// Global reductions are summed over all nodes.
	Global Scope = iota
	// Local reductions stay on the node that computed them.
	Local
)

func (s Scope) String() string {
	if s == Local {
		return "local"
	}
	return "global"
}

// Backend executes vector-field operations on the host.
type Backend struct {
	comm  comm.Communicator
	scope Scope
	flops *atomic.Uint64
	bytes *atomic.Uint64
}

// New returns a Backend with global reductions through c. If c is nil,
// comm.Single is used.
func New(c comm.Communicator) *Backend {
	if c == nil {
		c = comm.Single{}
	}
	return &Backend{
		comm:  c,
		flops: new(atomic.Uint64),
		bytes: new(atomic.Uint64),
	}
}

// WithScope returns a Backend reducing in scope s. The returned Backend
// shares the communicator and the operation counters of b.
func (b *Backend) WithScope(s Scope) *Backend {
	c := *b
	c.scope = s
	return &c
}

// Scope returns the reduction scope of b.
func (b *Backend) Scope() Scope { return b.scope }

// Communicator returns the communicator used for global reductions.
func (b *Backend) Communicator() comm.Communicator { return b.comm }

// Location returns the location of the fields b can operate on.
func (b *Backend) Location() field.Location { return field.Host }

// Flops returns the number of floating-point operations executed since the
// last reset.
func (b *Backend) Flops() uint64 { return b.flops.Load() }

// Bytes returns the number of bytes moved since the last reset.
func (b *Backend) Bytes() uint64 { return b.bytes.Load() }

// ResetCounters clears the flop and byte counters.
func (b *Backend) ResetCounters() {
	b.flops.Store(0)
	b.bytes.Store(0)
}

// Reduce sums vals over all nodes when b reduces globally.
func (b *Backend) Reduce(vals ...float64) {
	if b.scope == Global {
		b.comm.AllReduce(vals)
	}
}

func (b *Backend) count(perReal int, fs ...*field.Field) {
	n := fs[0].Len()
	b.flops.Add(uint64(perReal * n))
	var bytes int
	for _, f := range fs {
		bytes += f.Precision().Bytes()
	}
	b.bytes.Add(uint64(bytes * n))
}

func check(fs ...*field.Field) {
	for _, f := range fs[1:] {
		if !field.Compatible(fs[0], f) {
			panic("blas: incompatible fields")
		}
	}
}

func vec(f *field.Field) blas64.Vector {
	d := f.Data()
	return blas64.Vector{N: len(d), Inc: 1, Data: d}
}

// Zero sets x to zero.
func (b *Backend) Zero(x *field.Field) {
	d := x.Data()
	for i := range d {
		d[i] = 0
	}
	b.count(0, x)
}

// Copy copies src into dst converting the precision if they differ.
func (b *Backend) Copy(dst, src *field.Field) {
	check(dst, src)
	copy(dst.Data(), src.Data())
	dst.Quantize()
	b.count(0, dst, src)
}

// Ax computes x = a*x.
func (b *Backend) Ax(a float64, x *field.Field) {
	blas64.Scal(a, vec(x))
	x.Quantize()
	b.count(1, x)
}

// Axpy computes y += a*x.
func (b *Backend) Axpy(a float64, x, y *field.Field) {
	check(x, y)
	blas64.Axpy(a, vec(x), vec(y))
	y.Quantize()
	b.count(2, x, y)
}

// Xpy computes y += x.
func (b *Backend) Xpy(x, y *field.Field) {
	check(x, y)
	floats.Add(y.Data(), x.Data())
	y.Quantize()
	b.count(1, x, y)
}

// Mxpy computes y -= x.
func (b *Backend) Mxpy(x, y *field.Field) {
	check(x, y)
	floats.Sub(y.Data(), x.Data())
	y.Quantize()
	b.count(1, x, y)
}

// Xpay computes y = x + a*y.
func (b *Backend) Xpay(x *field.Field, a float64, y *field.Field) {
	check(x, y)
	yd := y.Data()
	floats.AddScaledTo(yd, x.Data(), a, yd)
	y.Quantize()
	b.count(2, x, y)
}

// Axpby computes y = a*x + c*y.
func (b *Backend) Axpby(a float64, x *field.Field, c float64, y *field.Field) {
	check(x, y)
	yd := y.Data()
	floats.Scale(c, yd)
	floats.AddScaled(yd, a, x.Data())
	y.Quantize()
	b.count(3, x, y)
}

// Axpbypcz computes z = a*x + c*y + d*z.
func (b *Backend) Axpbypcz(a float64, x *field.Field, c float64, y *field.Field, d float64, z *field.Field) {
	check(x, y, z)
	zd := z.Data()
	floats.Scale(d, zd)
	floats.AddScaled(zd, a, x.Data())
	floats.AddScaled(zd, c, y.Data())
	z.Quantize()
	b.count(5, x, y, z)
}

// AxpyZpbx computes y += a*x followed by x = z + c*x. It is the solution
// and search direction update of CG.
func (b *Backend) AxpyZpbx(a float64, x, y, z *field.Field, c float64) {
	check(x, y, z)
	xd := x.Data()
	floats.AddScaled(y.Data(), a, xd)
	floats.AddScaledTo(xd, z.Data(), c, xd)
	y.Quantize()
	x.Quantize()
	b.count(4, x, y, z)
}

// AxpyXmaz computes y += a*x followed by x -= a*z. It is the fused solution
// and residual update of MR and SD.
func (b *Backend) AxpyXmaz(a float64, x, y, z *field.Field) {
	check(x, y, z)
	xd := x.Data()
	floats.AddScaled(y.Data(), a, xd)
	floats.AddScaled(xd, -a, z.Data())
	y.Quantize()
	x.Quantize()
	b.count(4, x, y, z)
}

// MultiAxpy computes y += sum_i a[i]*x[i].
func (b *Backend) MultiAxpy(a []float64, x []*field.Field, y *field.Field) {
	if len(a) != len(x) {
		panic("blas: mismatched coefficient count")
	}
	yd := y.Data()
	for i, xi := range x {
		check(xi, y)
		floats.AddScaled(yd, a[i], xi.Data())
	}
	y.Quantize()
	b.flops.Add(uint64(2 * len(x) * len(yd)))
}

// Norm2 returns the squared L2 norm of x.
func (b *Backend) Norm2(x *field.Field) float64 {
	v := []float64{blas64.Dot(vec(x), vec(x))}
	b.count(2, x)
	b.Reduce(v...)
	return v[0]
}

// Dot returns the inner product of x and y.
func (b *Backend) Dot(x, y *field.Field) float64 {
	check(x, y)
	v := []float64{blas64.Dot(vec(x), vec(y))}
	b.count(2, x, y)
	b.Reduce(v...)
	return v[0]
}

// DotNormA returns the inner product of x and y and the squared norm of x
// with one reduction.
func (b *Backend) DotNormA(x, y *field.Field) (dot, norm2 float64) {
	check(x, y)
	v := []float64{blas64.Dot(vec(x), vec(y)), blas64.Dot(vec(x), vec(x))}
	b.count(4, x, y)
	b.Reduce(v...)
	return v[0], v[1]
}

// DotNormB returns the inner product of x and y and the squared norm of y
// with one reduction.
func (b *Backend) DotNormB(x, y *field.Field) (dot, norm2 float64) {
	check(x, y)
	v := []float64{blas64.Dot(vec(x), vec(y)), blas64.Dot(vec(y), vec(y))}
	b.count(4, x, y)
	b.Reduce(v...)
	return v[0], v[1]
}

// DotBatch returns the inner products of every x[i] with y using one
// reduction.
func (b *Backend) DotBatch(x []*field.Field, y *field.Field) []float64 {
	v := make([]float64, len(x))
	for i, xi := range x {
		check(xi, y)
		v[i] = blas64.Dot(vec(xi), vec(y))
	}
	b.flops.Add(uint64(2 * len(x) * y.Len()))
	b.Reduce(v...)
	return v
}

// XmyNorm computes y = x - y and returns the squared norm of the result.
func (b *Backend) XmyNorm(x, y *field.Field) float64 {
	check(x, y)
	yd := y.Data()
	floats.SubTo(yd, x.Data(), yd)
	y.Quantize()
	v := []float64{blas64.Dot(vec(y), vec(y))}
	b.count(3, x, y)
	b.Reduce(v...)
	return v[0]
}

// AxpyNorm computes y += a*x and returns the squared norm of the result.
func (b *Backend) AxpyNorm(a float64, x, y *field.Field) float64 {
	check(x, y)
	blas64.Axpy(a, vec(x), vec(y))
	y.Quantize()
	v := []float64{blas64.Dot(vec(y), vec(y))}
	b.count(4, x, y)
	b.Reduce(v...)
	return v[0]
}

// HeavyQuarkResidualNorm returns the squared norms of x and r and the
// heavy-quark residual of r relative to x: the square root of the site
// average of |r_s|²/|x_s|², sites where x vanishes being skipped.
func (b *Backend) HeavyQuarkResidualNorm(x, r *field.Field) (x2, r2, hq float64) {
	check(x, r)
	xd, rd := x.Data(), r.Data()
	ns := x.SiteSize()
	var sum float64
	for s := 0; s < len(xd); s += ns {
		xs := floats.Dot(xd[s:s+ns], xd[s:s+ns])
		rs := floats.Dot(rd[s:s+ns], rd[s:s+ns])
		x2 += xs
		r2 += rs
		if xs > 0 {
			sum += rs / xs
		}
	}
	v := []float64{x2, r2, sum, float64(x.Volume())}
	b.count(5, x, r)
	b.Reduce(v...)
	if v[3] == 0 {
		return v[0], v[1], 0
	}
	return v[0], v[1], math.Sqrt(v[2] / v[3])
}

// AxpyCGNorm computes y += a*x and returns the squared norm of the result
// together with the inner product of the result with the change of y. The
// latter is the Polak-Ribière numerator of flexible CG.
func (b *Backend) AxpyCGNorm(a float64, x, y *field.Field) (norm2, sigma float64) {
	check(x, y)
	xd, yd := x.Data(), y.Data()
	prec := y.Precision()
	for i, old := range yd {
		v := prec.Round(old + a*xd[i])
		norm2 += v * v
		sigma += v * (v - old)
		yd[i] = v
	}
	v := []float64{norm2, sigma}
	b.count(6, x, y)
	b.Reduce(v...)
	return v[0], v[1]
}

// XpyHeavyQuarkResidualNorm returns HeavyQuarkResidualNorm(x+y, r) without
// storing x+y.
func (b *Backend) XpyHeavyQuarkResidualNorm(x, y, r *field.Field) (x2, r2, hq float64) {
	check(x, y, r)
	xd, yd, rd := x.Data(), y.Data(), r.Data()
	ns := x.SiteSize()
	var sum float64
	for s := 0; s < len(xd); s += ns {
		var xs, rs float64
		for i := s; i < s+ns; i++ {
			v := xd[i] + yd[i]
			xs += v * v
			rs += rd[i] * rd[i]
		}
		x2 += xs
		r2 += rs
		if xs > 0 {
			sum += rs / xs
		}
	}
	v := []float64{x2, r2, sum, float64(x.Volume())}
	b.count(6, x, y, r)
	b.Reduce(v...)
	if v[3] == 0 {
		return v[0], v[1], 0
	}
	return v[0], v[1], math.Sqrt(v[2] / v[3])
}
