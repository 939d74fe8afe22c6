// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runInvert(t *testing.T, config string, args ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "invert.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0o600))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", path}, args...))
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestInvertCG(t *testing.T) {
	out := runInvert(t, `
lattice:
  dims: [4, 4, 4, 4]
  colors: 2
  mass: 0.5
solver:
  inv_type: cg
  tol: 1e-10
rhs: 2
`, "--metrics")
	assert.Contains(t, out, "rhs 0:")
	assert.Contains(t, out, "rhs 1:")
	assert.Contains(t, out, "quda_solver_solves_total")
}

func TestInvertEvenOdd(t *testing.T) {
	out := runInvert(t, `
lattice:
  dims: [4, 4, 4, 4]
  colors: 2
  mass: 0.5
  drift: 0.3
solver:
  inv_type: bicgstab
  tol: 1e-9
even_odd: true
`)
	assert.Contains(t, out, "rhs 0:")
}

func TestInvertMultiShift(t *testing.T) {
	out := runInvert(t, `
lattice:
  dims: [4, 4, 2, 2]
  colors: 1
  mass: 0.5
solver:
  inv_type: cg
  offset: [0.1, 0, 1]
`)
	assert.Contains(t, out, "shift 0.1")
	assert.Contains(t, out, "shift 1")
}

func TestInvertBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invert.yaml")
	require.NoError(t, os.WriteFile(path, []byte("solver:\n  inv_type: nope\n"), 0o600))
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path})
	assert.Error(t, cmd.Execute())
}
