// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package operator

import "github.com/kostrzewa/quda/field"

// Dagger returns the operator A†.
func Dagger(a Operator) Operator {
	if d, ok := a.(dagger); ok {
		return d.Operator
	}
	return dagger{a}
}

type dagger struct{ Operator }

func (d dagger) Apply(out, in *field.Field)       { d.Operator.ApplyDagger(out, in) }
func (d dagger) ApplyDagger(out, in *field.Field) { d.Operator.Apply(out, in) }

// scratch holds a temporary field reused while the shape of the input does
// not change.
type scratch struct {
	tmp *field.Field
}

func (s *scratch) get(like *field.Field) *field.Field {
	if s.tmp == nil || s.tmp.Param() != like.Param() {
		s.tmp = field.NewLike(like, field.InvalidPrecision)
	}
	return s.tmp
}

// MdagM returns the normal operator A†A. It is Hermitian positive definite
// for any non-singular A.
func MdagM(a Operator) Operator {
	return &normal{a: a, adjointFirst: false}
}

// MMdag returns the normal operator AA†.
func MMdag(a Operator) Operator {
	return &normal{a: a, adjointFirst: true}
}

type normal struct {
	a            Operator
	adjointFirst bool
	s            scratch
}

func (n *normal) Apply(out, in *field.Field) {
	checkApply(out, in)
	tmp := n.s.get(in)
	if n.adjointFirst {
		n.a.ApplyDagger(tmp, in)
		n.a.Apply(out, tmp)
		return
	}
	n.a.Apply(tmp, in)
	n.a.ApplyDagger(out, tmp)
}

// ApplyDagger is Apply: the normal operators are Hermitian.
func (n *normal) ApplyDagger(out, in *field.Field) { n.Apply(out, in) }

func (n *normal) Flops() uint64 { return n.a.Flops() }

// Shifted returns the operator A + σI.
func Shifted(a Operator, sigma float64) Operator {
	return &shifted{a: a, sigma: sigma}
}

type shifted struct {
	a     Operator
	sigma float64
	c     Counter
}

func (s *shifted) Apply(out, in *field.Field) {
	s.a.Apply(out, in)
	s.axpy(out, in)
}

func (s *shifted) ApplyDagger(out, in *field.Field) {
	s.a.ApplyDagger(out, in)
	s.axpy(out, in)
}

func (s *shifted) axpy(out, in *field.Field) {
	if s.sigma == 0 {
		return
	}
	od, id := out.Data(), in.Data()
	for i, v := range id {
		od[i] += s.sigma * v
	}
	out.Quantize()
	s.c.Add(2 * len(id))
}

func (s *shifted) Flops() uint64 { return s.a.Flops() + s.c.Flops() }
