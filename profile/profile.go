// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package profile provides a timing accumulator for the phases of a solve.
package profile

import (
	"fmt"
	"strings"
	"time"
)

// Phase names a timed section of a solve.
type Phase int

const (
	Init Phase = iota
	Preamble
	Compute
	Epilogue
	Free
	Total
	numPhases
)

var phaseNames = [numPhases]string{"init", "preamble", "compute", "epilogue", "free", "total"}

func (p Phase) String() string {
	if p < 0 || p >= numPhases {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// TimeProfile accumulates wall-clock time per phase. Phases may be nested
// but a phase must not be started twice without being stopped.
//
// A nil *TimeProfile is valid and records nothing.
type TimeProfile struct {
	name    string
	now     func() time.Time
	start   [numPhases]time.Time
	running [numPhases]bool
	last    [numPhases]time.Duration
	total   [numPhases]time.Duration
	count   [numPhases]int
}

// New returns an empty TimeProfile.
func New(name string) *TimeProfile {
	return &TimeProfile{name: name, now: time.Now}
}

// Name returns the name of the profile.
func (p *TimeProfile) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// Start starts timing phase ph.
func (p *TimeProfile) Start(ph Phase) {
	if p == nil {
		return
	}
	if p.running[ph] {
		panic("profile: phase " + ph.String() + " already running")
	}
	p.running[ph] = true
	p.start[ph] = p.now()
}

// Stop stops timing phase ph and adds the elapsed time to its total.
func (p *TimeProfile) Stop(ph Phase) {
	if p == nil {
		return
	}
	if !p.running[ph] {
		panic("profile: phase " + ph.String() + " not running")
	}
	p.running[ph] = false
	d := p.now().Sub(p.start[ph])
	p.last[ph] = d
	p.total[ph] += d
	p.count[ph]++
}

// Running reports whether phase ph is being timed.
func (p *TimeProfile) Running(ph Phase) bool {
	return p != nil && p.running[ph]
}

// Last returns the duration of the most recent completed timing of ph.
func (p *TimeProfile) Last(ph Phase) time.Duration {
	if p == nil {
		return 0
	}
	return p.last[ph]
}

// Total returns the accumulated duration of ph.
func (p *TimeProfile) Total(ph Phase) time.Duration {
	if p == nil {
		return 0
	}
	return p.total[ph]
}

// Count returns how many times ph has been timed.
func (p *TimeProfile) Count(ph Phase) int {
	if p == nil {
		return 0
	}
	return p.count[ph]
}

// Reset clears all accumulated times.
func (p *TimeProfile) Reset() {
	if p == nil {
		return
	}
	name, now := p.name, p.now
	*p = TimeProfile{name: name, now: now}
}

func (p *TimeProfile) String() string {
	if p == nil {
		return "<nil profile>"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:", p.name)
	for ph := Phase(0); ph < numPhases; ph++ {
		if p.count[ph] == 0 {
			continue
		}
		fmt.Fprintf(&sb, " %v=%v(%d)", ph, p.total[ph], p.count[ph])
	}
	return sb.String()
}
