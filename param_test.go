// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kostrzewa/quda/field"
)

func TestParseParam(t *testing.T) {
	p, err := ParseParam([]byte(`
inv_type: gcr
inv_type_precondition: mr
residual_type: [l2-relative, heavy-quark]
tol: 1e-10
tol_hq: 1e-6
precision: double
precision_sloppy: single
precision_precondition: half
n_krylov: 16
offset: [0, 0.1, 0.5]
verbosity: summarize
schwarz_type: additive
`))
	require.NoError(t, err)
	assert.Equal(t, GCRInverter, p.InvType)
	assert.Equal(t, MRInverter, p.InvTypePrecondition)
	assert.Equal(t, L2Relative|HeavyQuark, p.ResidualType)
	assert.Equal(t, 1e-10, p.Tol)
	assert.Equal(t, field.Single, p.PrecisionSloppy)
	assert.Equal(t, field.Half, p.PrecisionPrecondition)
	assert.Equal(t, 16, p.NKrylov)
	assert.Equal(t, []float64{0, 0.1, 0.5}, p.Offset)
	assert.Equal(t, Summarize, p.Verbosity)
	assert.Equal(t, SchwarzAdditive, p.SchwarzType)

	// Unset fields keep their defaults.
	def := DefaultParam()
	assert.Equal(t, def.MaxIter, p.MaxIter)
	assert.Equal(t, def.Delta, p.Delta)

	p, err = ParseParam(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultParam(), p)
}

func TestParseParamInvalid(t *testing.T) {
	for _, test := range []struct {
		name string
		yaml string
	}{
		{"unknown solver", "inv_type: lanczos"},
		{"unknown precision", "precision: quad"},
		{"unknown residual", "residual_type: l3"},
		{"negative tolerance", "tol: -1"},
		{"delta above one", "delta: 2"},
		{"self preconditioned", "inv_type: gcr\ninv_type_precondition: gcr"},
		{"too many shifts", "offset: [" + shifts(MaxMultiShift+1) + "]"},
		{"negative shift tolerance", "tol_offset: [1e-8, -1]"},
		{"empty residual", "residual_type: []"},
	} {
		_, err := ParseParam([]byte(test.yaml))
		assert.True(t, errors.Is(err, ErrInvalidParam), "%s: %v", test.name, err)
	}
}

func shifts(n int) string {
	s := "0"
	for i := 1; i < n; i++ {
		s += ", 0"
	}
	return s
}

func TestParamYAMLRoundTrip(t *testing.T) {
	p := DefaultParam()
	p.InvType = BiCGstabLInverter
	p.ResidualType = L2Absolute | HeavyQuark
	p.PrecisionSloppy = field.Half
	p.Offset = []float64{0, 0.5}
	p.TolOffset = []float64{1e-8, 1e-9}
	p.TolHQOffset = []float64{1e-6, 1e-6}
	data, err := yaml.Marshal(p)
	require.NoError(t, err)
	q, err := ParseParam(data)
	require.NoError(t, err)
	assert.Equal(t, p, q)
}

func TestLoadParam(t *testing.T) {
	path := filepath.Join(t.TempDir(), "param.yaml")
	require.NoError(t, os.WriteFile(path, []byte("inv_type: bicgstab\nmax_iter: 50\n"), 0o644))
	p, err := LoadParam(path)
	require.NoError(t, err)
	assert.Equal(t, BiCGstabInverter, p.InvType)
	assert.Equal(t, 50, p.MaxIter)

	_, err = LoadParam(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStopping(t *testing.T) {
	for _, test := range []struct {
		rt   ResidualType
		b2   float64
		want float64
	}{
		{L2Relative, 4, 4e-16},
		{L2Absolute, 4, 1e-16},
		{L2Relative | L2Absolute, 4, 1e-16},
		{L2Relative | L2Absolute, 0.25, 0.25e-16},
		{HeavyQuark, 4, 4e-16},
	} {
		assert.InDelta(t, test.want, Stopping(1e-8, test.b2, test.rt), 1e-30, "%v", test.rt)
	}
}

func TestParamCopy(t *testing.T) {
	p := DefaultParam()
	p.Offset = []float64{0, 1}
	p.RhsIdx = 3
	q := p.Copy()
	q.Offset[0] = 5
	assert.Equal(t, 0.0, p.Offset[0], "copies share no slices")
	assert.Zero(t, q.RhsIdx)

	p.InvType = IncEigCGInverter
	p.M = 40
	q = p.Copy()
	assert.Equal(t, 48, q.M)
	assert.Equal(t, 3, q.RhsIdx)
}

func TestPreconditionerParam(t *testing.T) {
	p := DefaultParam()
	p.InvType = GCRInverter
	p.InvTypePrecondition = MRInverter
	p.TolPrecondition = 0.2
	p.MaxIterPrecondition = 7
	p.PrecisionPrecondition = field.Half
	p.UseInitGuess = true
	p.Iter = 100

	k := p.preconditioner()
	assert.Equal(t, MRInverter, k.InvType)
	assert.Equal(t, NoInverter, k.InvTypePrecondition)
	assert.Equal(t, 0.2, k.Tol)
	assert.Equal(t, 7, k.MaxIter)
	assert.Equal(t, field.Half, k.Precision)
	assert.Equal(t, field.Half, k.PrecisionSloppy)
	assert.True(t, k.IsPreconditioner)
	assert.False(t, k.UseInitGuess)
	assert.Zero(t, k.Iter)
	assert.True(t, k.GlobalReduction)

	p.SchwarzType = SchwarzAdditive
	assert.False(t, p.preconditioner().GlobalReduction, "domain-decomposition preconditioners reduce locally")
}

func TestParamUpdate(t *testing.T) {
	outer := DefaultParam()
	outer.Iter, outer.Gflops, outer.Secs = 10, 1, 0.5
	inner := outer.Copy()
	inner.Iter, inner.Gflops, inner.Secs = 5, 0.5, 0.25
	inner.TrueRes = 1e-9
	inner.TrueResOffset = []float64{1e-9, 1e-8}

	inner.Update(outer)
	assert.Equal(t, 15, outer.Iter)
	assert.Equal(t, 1.5, outer.Gflops)
	assert.Equal(t, 0.75, outer.Secs)
	assert.Equal(t, 1e-9, outer.TrueRes)
	assert.Equal(t, []float64{1e-9, 1e-8}, outer.TrueResOffset)

	outer.TrueResOffset = nil
	inner.UpdateOffset(outer, 1)
	assert.Equal(t, []float64{0, 1e-8}, outer.TrueResOffset)
	assert.Equal(t, 20, outer.Iter)
}

func TestEnumText(t *testing.T) {
	for kind := NoInverter; kind < numInverters; kind++ {
		text, err := kind.MarshalText()
		require.NoError(t, err)
		var got InverterType
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, kind, got)
	}
	var rt ResidualType
	require.NoError(t, rt.UnmarshalText([]byte("l2-relative,heavy-quark")))
	assert.Equal(t, "l2-relative|heavy-quark", rt.String())
	assert.False(t, InverterType(-1).IsValid())
	assert.Equal(t, "SchwarzType(7)", SchwarzType(7).String())
}
