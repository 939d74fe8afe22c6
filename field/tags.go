// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package field

import (
	"fmt"
	"math"
	"strings"
)

// Precision is the storage precision of a field.
type Precision int

const (
	InvalidPrecision Precision = iota
	Half
	Single
	Double
)

var precisionNames = [...]string{"invalid", "half", "single", "double"}

func (p Precision) String() string {
	if p < 0 || int(p) >= len(precisionNames) {
		return fmt.Sprintf("Precision(%d)", int(p))
	}
	return precisionNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p Precision) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Precision) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for i, name := range precisionNames {
		if i > 0 && name == s {
			*p = Precision(i)
			return nil
		}
	}
	return fmt.Errorf("field: unknown precision %q", text)
}

// IsValid reports whether p names a storage precision.
func (p Precision) IsValid() bool { return p >= Half && p <= Double }

// Bytes returns the number of bytes one real occupies in precision p.
func (p Precision) Bytes() int {
	switch p {
	case Half:
		return 2
	case Single:
		return 4
	default:
		return 8
	}
}

// Epsilon returns the unit roundoff of precision p.
func (p Precision) Epsilon() float64 {
	switch p {
	case Half:
		return 1.0 / (1 << halfBits)
	case Single:
		return 1.0 / (1 << 24)
	default:
		return 1.0 / (1 << 53)
	}
}

// Round returns v rounded to precision p.
func (p Precision) Round(v float64) float64 {
	switch p {
	case Single:
		return float64(float32(v))
	case Half:
		return roundHalf(v)
	default:
		return v
	}
}

// RoundSlice rounds every element of s to precision p in place.
func (p Precision) RoundSlice(s []float64) {
	switch p {
	case Single:
		for i, v := range s {
			s[i] = float64(float32(v))
		}
	case Half:
		for i, v := range s {
			s[i] = roundHalf(v)
		}
	}
}

// halfBits is the significand width kept by half precision. The exponent
// range is not limited, matching a fixed-point format with a per-site norm.
const halfBits = 11

func roundHalf(v float64) float64 {
	if v == 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	frac, exp := math.Frexp(v)
	const scale = 1 << halfBits
	return math.Ldexp(math.RoundToEven(frac*scale)/scale, exp)
}

// SiteSubset tells which sites a field covers.
type SiteSubset int

const (
	Full SiteSubset = iota
	ParitySubset
)

func (s SiteSubset) String() string {
	if s == ParitySubset {
		return "parity"
	}
	return "full"
}

// Parity of the sites of a parity field.
type Parity int

const (
	ParityNone Parity = iota
	Even
	Odd
)

func (p Parity) String() string {
	switch p {
	case Even:
		return "even"
	case Odd:
		return "odd"
	default:
		return "none"
	}
}

// Other returns the opposite parity.
func (p Parity) Other() Parity {
	switch p {
	case Even:
		return Odd
	case Odd:
		return Even
	default:
		return ParityNone
	}
}

// Location is where a field resides.
type Location int

const (
	Host Location = iota
	Device
)

func (l Location) String() string {
	if l == Device {
		return "device"
	}
	return "host"
}

// Create selects how the storage of a new field is initialized.
type Create int

const (
	// CreateZero clears the storage.
	CreateZero Create = iota
	// CreateNull leaves the contents unspecified; storage released by
	// another field of the same length may be reused.
	CreateNull
)
