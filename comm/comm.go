// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package comm provides the reduction hook that joins the partial sums of
// the nodes a computational domain is distributed over.
package comm

import "sync/atomic"

// Communicator sums partial reductions across nodes.
type Communicator interface {
	// AllReduce replaces every element of vals by its sum over all nodes.
	AllReduce(vals []float64)
	// Size returns the number of nodes.
	Size() int
}

// Single is the communicator of a domain held by one node. AllReduce is the
// identity.
type Single struct{}

// AllReduce implements the Communicator interface.
func (Single) AllReduce([]float64) {}

// Size implements the Communicator interface.
func (Single) Size() int { return 1 }

// Counting wraps a Communicator and counts the reductions that pass through
// it.
type Counting struct {
	Communicator

	calls atomic.Int64
}

// NewCounting returns a counting wrapper around c. If c is nil, Single is
// used.
func NewCounting(c Communicator) *Counting {
	if c == nil {
		c = Single{}
	}
	return &Counting{Communicator: c}
}

// AllReduce implements the Communicator interface.
func (c *Counting) AllReduce(vals []float64) {
	c.calls.Add(1)
	c.Communicator.AllReduce(vals)
}

// Calls returns the number of AllReduce calls seen so far.
func (c *Counting) Calls() int64 {
	return c.calls.Load()
}

// Replicated emulates n nodes holding identical copies of the local data:
// every reduction is multiplied by n.
type Replicated int

// AllReduce implements the Communicator interface.
func (n Replicated) AllReduce(vals []float64) {
	for i := range vals {
		vals[i] *= float64(n)
	}
}

// Size implements the Communicator interface.
func (n Replicated) Size() int { return int(n) }
