// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"errors"

	"github.com/kostrzewa/quda/field"
)

var (
	// ErrUnsupported is returned for a configuration no solver supports,
	// such as an unknown solver kind or fields on an unsupported location.
	ErrUnsupported = errors.New("quda: unsupported configuration")

	// ErrLocation is returned when the fields of a solve reside on
	// different locations.
	ErrLocation = field.ErrLocation

	// ErrBreakdown is returned when a solver cannot continue because a
	// recurrence coefficient vanished.
	ErrBreakdown = errors.New("quda: breakdown")

	// ErrInvalidParam is returned when a parameter record fails
	// validation.
	ErrInvalidParam = errors.New("quda: invalid parameter")
)
