// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// InverterType selects a solver.
type InverterType int

const (
	// NoInverter disables a preconditioner.
	NoInverter InverterType = iota
	CGInverter
	CG3Inverter
	CGNEInverter
	CGNRInverter
	CG3NEInverter
	CG3NRInverter
	PCGInverter
	BiCGInverter
	BiCGstabInverter
	BiCGstabLInverter
	GCRInverter
	CAGCRInverter
	MRInverter
	SDInverter
	XSDInverter
	GMRESDRInverter
	IncEigCGInverter
	numInverters
)

var inverterNames = [numInverters]string{
	"none", "cg", "cg3", "cgne", "cgnr", "cg3ne", "cg3nr", "pcg", "bicg",
	"bicgstab", "bicgstab-l", "gcr", "ca-gcr", "mr", "sd", "xsd", "gmres-dr",
	"inc-eigcg",
}

func (t InverterType) String() string {
	if !t.IsValid() {
		return fmt.Sprintf("InverterType(%d)", int(t))
	}
	return inverterNames[t]
}

// IsValid reports whether t names a solver or NoInverter.
func (t InverterType) IsValid() bool { return t >= 0 && t < numInverters }

// MarshalText implements encoding.TextMarshaler.
func (t InverterType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *InverterType) UnmarshalText(text []byte) error {
	i, err := lookup("inverter type", inverterNames[:], text)
	*t = InverterType(i)
	return err
}

// ResidualType is a set of residual norms that must all satisfy their
// tolerance for a solve to converge.
type ResidualType int

const (
	// L2Relative requires |r|² ≤ tol²·|b|².
	L2Relative ResidualType = 1 << iota
	// L2Absolute requires |r|² ≤ tol².
	L2Absolute
	// HeavyQuark requires the heavy-quark residual to reach TolHQ.
	HeavyQuark

	allResiduals = L2Relative | L2Absolute | HeavyQuark
)

var residualNames = []string{"l2-relative", "l2-absolute", "heavy-quark"}

func (t ResidualType) String() string {
	return strings.Join(t.names(), "|")
}

func (t ResidualType) names() []string {
	var s []string
	for i, name := range residualNames {
		if t&(1<<i) != 0 {
			s = append(s, name)
		}
	}
	return s
}

// IsValid reports whether t is a non-empty set of known residual types.
func (t ResidualType) IsValid() bool { return t != 0 && t&^allResiduals == 0 }

// MarshalText implements encoding.TextMarshaler.
func (t ResidualType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Names are joined by
// '|' or ','.
func (t *ResidualType) UnmarshalText(text []byte) error {
	*t = 0
	for _, f := range strings.FieldsFunc(string(text), func(r rune) bool { return r == '|' || r == ',' }) {
		i, err := lookup("residual type", residualNames, []byte(f))
		if err != nil {
			return err
		}
		*t |= 1 << i
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler, writing t as a list of names.
func (t ResidualType) MarshalYAML() (interface{}, error) { return t.names(), nil }

// UnmarshalYAML implements yaml.Unmarshaler. It accepts a single name or a
// list of names.
func (t *ResidualType) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		return t.UnmarshalText([]byte(n.Value))
	case yaml.SequenceNode:
		var names []string
		if err := n.Decode(&names); err != nil {
			return err
		}
		return t.UnmarshalText([]byte(strings.Join(names, "|")))
	}
	return fmt.Errorf("quda: line %d: residual type must be a name or a list of names", n.Line)
}

// SchwarzType selects a domain-decomposition preconditioner.
type SchwarzType int

const (
	SchwarzNone SchwarzType = iota
	// SchwarzAdditive solves every domain on the same residual.
	SchwarzAdditive
	// SchwarzMultiplicative updates the residual after every domain.
	SchwarzMultiplicative
	numSchwarz
)

var schwarzNames = [numSchwarz]string{"none", "additive", "multiplicative"}

func (t SchwarzType) String() string {
	if !t.IsValid() {
		return fmt.Sprintf("SchwarzType(%d)", int(t))
	}
	return schwarzNames[t]
}

func (t SchwarzType) IsValid() bool { return t >= 0 && t < numSchwarz }

func (t SchwarzType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *SchwarzType) UnmarshalText(text []byte) error {
	i, err := lookup("schwarz type", schwarzNames[:], text)
	*t = SchwarzType(i)
	return err
}

// Verbosity gates solver diagnostics.
type Verbosity int

const (
	// Silent reports nothing.
	Silent Verbosity = iota
	// Summarize reports one summary per solve.
	Summarize
	// Verbose reports every iteration.
	Verbose
	// DebugVerbose adds solver internals.
	DebugVerbose
	numVerbosity
)

var verbosityNames = [numVerbosity]string{"silent", "summarize", "verbose", "debug"}

func (v Verbosity) String() string {
	if !v.IsValid() {
		return fmt.Sprintf("Verbosity(%d)", int(v))
	}
	return verbosityNames[v]
}

func (v Verbosity) IsValid() bool { return v >= 0 && v < numVerbosity }

func (v Verbosity) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Verbosity) UnmarshalText(text []byte) error {
	i, err := lookup("verbosity", verbosityNames[:], text)
	*v = Verbosity(i)
	return err
}

func lookup(kind string, names []string, text []byte) (int, error) {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for i, name := range names {
		if name == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("quda: unknown %s %q", kind, text)
}
