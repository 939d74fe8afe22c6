// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package field provides the vector fields that linear solvers iterate on.
//
// A Field is a real array of Volume sites with SiteSize components each,
// tagged with the precision it is stored in, the subset of lattice sites it
// covers and the location where it resides. Values stored in a reduced
// precision field are rounded to that precision by Quantize, which every
// writer (the blas package, operators) calls after an update.
//
// A full field stores its even sites first followed by its odd sites, so
// Even and Odd return views sharing storage with the full field.
package field

import (
	"errors"
	"fmt"
	"sync"
)

// ErrLocation is returned when fields taking part in one operation reside on
// different locations.
var ErrLocation = errors.New("field: fields reside on different locations")

// Param describes the shape and tags of a field.
type Param struct {
	// Volume is the number of sites in the field.
	// For a parity field it is half the volume of the full field.
	Volume int

	// SiteSize is the number of real components per site.
	SiteSize int

	// Subset tells whether the field covers the full domain or a single
	// parity of it.
	Subset SiteSubset

	// Parity is the parity covered by a parity field.
	// It is ParityNone for full fields.
	Parity Parity

	// Precision is the precision the values are stored in.
	Precision Precision

	// Location is where the field resides.
	Location Location

	// Create selects whether the storage is cleared on creation.
	// The parameters of an existing field always report CreateZero.
	Create Create
}

// Len returns the number of reals described by p.
func (p Param) Len() int {
	return p.Volume * p.SiteSize
}

// Field is a vector field.
type Field struct {
	param Param
	data  []float64
	view  bool
}

// New returns a new field described by p.
func New(p Param) *Field {
	if p.Volume <= 0 || p.SiteSize <= 0 {
		panic("field: non-positive volume or site size")
	}
	if p.Precision == InvalidPrecision {
		p.Precision = Double
	}
	if p.Subset == Full {
		p.Parity = ParityNone
	}
	data := buffer(p.Len(), p.Create == CreateZero)
	p.Create = CreateZero
	return &Field{param: p, data: data}
}

// NewLike returns a new zeroed field with the shape of f stored in precision
// prec. If prec is InvalidPrecision, the precision of f is used.
func NewLike(f *Field, prec Precision) *Field {
	p := f.param
	if prec != InvalidPrecision {
		p.Precision = prec
	}
	p.Create = CreateZero
	return New(p)
}

// NewFrom returns a double precision full field holding a copy of data,
// with siteSize components per site.
func NewFrom(data []float64, siteSize int) *Field {
	if siteSize <= 0 || len(data)%siteSize != 0 {
		panic("field: length not a multiple of site size")
	}
	f := New(Param{
		Volume:    len(data) / siteSize,
		SiteSize:  siteSize,
		Precision: Double,
	})
	copy(f.data, data)
	return f
}

// Param returns the parameters describing f.
func (f *Field) Param() Param { return f.param }

// Data returns the storage of f. Writers must call Quantize after updating
// a reduced precision field.
func (f *Field) Data() []float64 { return f.data }

// Len returns the number of reals in f.
func (f *Field) Len() int { return len(f.data) }

// Volume returns the number of sites in f.
func (f *Field) Volume() int { return f.param.Volume }

// SiteSize returns the number of reals per site.
func (f *Field) SiteSize() int { return f.param.SiteSize }

// Precision returns the storage precision of f.
func (f *Field) Precision() Precision { return f.param.Precision }

// Location returns where f resides.
func (f *Field) Location() Location { return f.param.Location }

// Subset returns the site subset covered by f.
func (f *Field) Subset() SiteSubset { return f.param.Subset }

// Parity returns the parity of a parity field.
func (f *Field) Parity() Parity { return f.param.Parity }

// Quantize rounds every value of f to its storage precision.
func (f *Field) Quantize() {
	f.param.Precision.RoundSlice(f.data)
}

// Even returns the even sites of a full field as a parity field sharing
// storage with f.
func (f *Field) Even() *Field { return f.parity(Even) }

// Odd returns the odd sites of a full field as a parity field sharing
// storage with f.
func (f *Field) Odd() *Field { return f.parity(Odd) }

func (f *Field) parity(p Parity) *Field {
	if f.param.Subset != Full {
		panic("field: parity view of a parity field")
	}
	if f.param.Volume%2 != 0 {
		panic("field: odd volume")
	}
	q := f.param
	q.Volume /= 2
	q.Subset = ParitySubset
	q.Parity = p
	n := q.Len()
	data := f.data[:n:n]
	if p == Odd {
		data = f.data[n:]
	}
	return &Field{param: q, data: data, view: true}
}

// Release returns the storage of f for reuse by fields created with
// CreateNull. f must not be used afterwards. Releasing a parity view is a
// no-op.
func (f *Field) Release() {
	if f.view || f.data == nil {
		return
	}
	d := f.data
	pool(len(d)).Put(&d)
	f.data = nil
}

// String implements fmt.Stringer.
func (f *Field) String() string {
	return fmt.Sprintf("field(volume=%d, site=%d, %v, %v, %v)",
		f.param.Volume, f.param.SiteSize, f.param.Subset, f.param.Precision, f.param.Location)
}

// Compatible reports whether a and b can take part in one arithmetic
// expression: same length and same location.
func Compatible(a, b *Field) bool {
	return len(a.data) == len(b.data) && a.param.Location == b.param.Location
}

// CheckLocation returns the common location of fs, or ErrLocation if they
// reside on different locations.
func CheckLocation(fs ...*Field) (Location, error) {
	if len(fs) == 0 {
		return Host, nil
	}
	loc := fs[0].param.Location
	for _, f := range fs[1:] {
		if f.param.Location != loc {
			return loc, fmt.Errorf("%w: %v and %v", ErrLocation, loc, f.param.Location)
		}
	}
	return loc, nil
}

var pools sync.Map // map[int]*sync.Pool

func pool(n int) *sync.Pool {
	if p, ok := pools.Load(n); ok {
		return p.(*sync.Pool)
	}
	p, _ := pools.LoadOrStore(n, &sync.Pool{})
	return p.(*sync.Pool)
}

func buffer(n int, zero bool) []float64 {
	if zero {
		return make([]float64, n)
	}
	if v, ok := pool(n).Get().(*[]float64); ok && len(*v) == n {
		return *v
	}
	return make([]float64, n)
}
