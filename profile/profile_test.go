// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeProfile(t *testing.T) {
	p := New("cg")
	clock := time.Unix(0, 0)
	p.now = func() time.Time { return clock }

	p.Start(Compute)
	clock = clock.Add(3 * time.Second)
	p.Stop(Compute)
	p.Start(Compute)
	clock = clock.Add(time.Second)
	p.Stop(Compute)

	assert.Equal(t, time.Second, p.Last(Compute))
	assert.Equal(t, 4*time.Second, p.Total(Compute))
	assert.Equal(t, 2, p.Count(Compute))
	assert.Contains(t, p.String(), "compute=4s(2)")

	assert.Panics(t, func() { p.Stop(Epilogue) })
	p.Start(Epilogue)
	assert.True(t, p.Running(Epilogue))
	assert.Panics(t, func() { p.Start(Epilogue) })

	p.Reset()
	assert.Zero(t, p.Total(Compute))
	assert.False(t, p.Running(Epilogue))
	assert.Equal(t, "cg", p.Name())
}

func TestNilProfile(t *testing.T) {
	var p *TimeProfile
	p.Start(Compute)
	p.Stop(Compute)
	p.Reset()
	assert.Zero(t, p.Last(Compute))
	assert.Zero(t, p.Total(Compute))
	assert.False(t, p.Running(Compute))
}
