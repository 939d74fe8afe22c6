// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lattice

import "fmt"

// Nd is the number of lattice dimensions.
const Nd = 4

// Geometry is a periodic hypercubic lattice.
//
// Sites of a full field are stored in checkerboard order: the even sites
// (x+y+z+t even) in lexicographic order followed by the odd sites.
type Geometry struct {
	Dims [Nd]int `yaml:"dims"`
}

// Validate checks that every extent is positive and the first is even, as
// the checkerboard order requires.
func (g Geometry) Validate() error {
	for d, n := range g.Dims {
		if n <= 0 {
			return fmt.Errorf("lattice: non-positive extent %d in dimension %d", n, d)
		}
	}
	if g.Dims[0]%2 != 0 {
		return fmt.Errorf("lattice: odd extent %d in dimension 0", g.Dims[0])
	}
	return nil
}

// Volume returns the number of sites.
func (g Geometry) Volume() int {
	v := 1
	for _, n := range g.Dims {
		v *= n
	}
	return v
}

// Coords returns the coordinates of the site with lexicographic index i.
func (g Geometry) Coords(i int) [Nd]int {
	var x [Nd]int
	for d := 0; d < Nd; d++ {
		x[d] = i % g.Dims[d]
		i /= g.Dims[d]
	}
	return x
}

// Lex returns the lexicographic index of the site at x, wrapping the
// coordinates periodically.
func (g Geometry) Lex(x [Nd]int) int {
	i := 0
	for d := Nd - 1; d >= 0; d-- {
		i = i*g.Dims[d] + mod(x[d], g.Dims[d])
	}
	return i
}

// Parity returns 0 for even and 1 for odd sites.
func Parity(x [Nd]int) int {
	s := 0
	for _, c := range x {
		s += c
	}
	return s & 1
}

// CB returns the checkerboard index of the site at x.
func (g Geometry) CB(x [Nd]int) int {
	for d := range x {
		x[d] = mod(x[d], g.Dims[d])
	}
	return Parity(x)*g.Volume()/2 + g.Lex(x)/2
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}
