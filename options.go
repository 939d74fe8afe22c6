// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"github.com/kostrzewa/quda/blas"
	"github.com/kostrzewa/quda/comm"
)

type options struct {
	logger  *Logger
	comm    comm.Communicator
	backend *blas.Backend
}

// Option configures a solver.
type Option func(*options)

// WithLogger sets the logger diagnostics are written to. The default
// discards them.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithCommunicator sets the communicator global reductions go through.
// It is ignored when WithBackend is given.
func WithCommunicator(c comm.Communicator) Option {
	return func(o *options) {
		o.comm = c
	}
}

// WithBackend sets the vector-field backend. Solvers nested in a solver
// share its backend, and with it the operation counters.
func WithBackend(b *blas.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.backend == nil {
		o.backend = blas.New(o.comm)
	}
	return o
}

// asOptions returns options reproducing o, for nested solvers.
func (o options) asOptions() []Option {
	return []Option{WithLogger(o.logger), WithBackend(o.backend)}
}
