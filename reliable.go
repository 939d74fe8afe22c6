// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import "math"

// reliable decides when a mixed precision solver replaces its iterated
// residual by the true residual, and detects when doing so stops helping.
type reliable struct {
	delta float64

	r0Norm float64 // residual norm at the last update
	maxrx  float64 // largest residual norm since the last solution update
	maxrr  float64 // largest residual norm since the last residual update

	resIncrease, resIncreaseTotal       int
	maxResIncrease, maxResIncreaseTotal int

	updates int
}

func newReliable(p *Param, r2 float64) reliable {
	rn := math.Sqrt(r2)
	return reliable{
		delta:               p.Delta,
		r0Norm:              rn,
		maxrx:               rn,
		maxrr:               rn,
		maxResIncrease:      p.MaxResIncrease,
		maxResIncreaseTotal: p.MaxResIncreaseTotal,
	}
}

// check returns whether the solution and the residual are due for an
// update given the iterated residual r2.
func (rel *reliable) check(r2 float64) (updateX, updateR bool) {
	rn := math.Sqrt(r2)
	rel.maxrx = math.Max(rel.maxrx, rn)
	rel.maxrr = math.Max(rel.maxrr, rn)
	updateX = rn < rel.delta*rel.r0Norm && rel.r0Norm <= rel.maxrx
	updateR = (rn < rel.delta*rel.maxrr && rel.r0Norm <= rel.maxrr) || updateX
	return updateX, updateR
}

// update records an update that produced the true residual r2. It reports
// whether the true residual has failed to decrease more often than
// tolerated. A solution update leaving the true residual unchanged counts
// as an increase: the solver has reached its precision floor.
func (rel *reliable) update(r2 float64, updateX bool) (stalled bool) {
	rn := math.Sqrt(r2)
	rel.updates++
	if rn >= rel.r0Norm && rn > 0 && updateX {
		rel.resIncrease++
		rel.resIncreaseTotal++
		stalled = rel.resIncrease > rel.maxResIncrease || rel.resIncreaseTotal > rel.maxResIncreaseTotal
	} else {
		rel.resIncrease = 0
	}
	rel.r0Norm = rn
	rel.maxrx = rn
	rel.maxrr = rn
	return stalled
}

// forgive clears the consecutive increase count after a change of stopping
// criterion.
func (rel *reliable) forgive() {
	rel.resIncrease = 0
}
