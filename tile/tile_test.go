/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package tile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArange(t *testing.T) {
	a := Arange(0, 8, 5)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, a.Offsets)
	assert.Equal(t, []bool{true, true, true, true, true, false, false, false}, a.Mask)

	// Negative offsets must be masked out too.
	a = Arange(-2, 4, 8)
	assert.Equal(t, []bool{false, false, true, true}, a.Mask)

	require.Panics(t, func() { Arange(0, 0, 5) })
}

func TestBlockAxis(t *testing.T) {
	// Third block of 8 over an extent of 20: only offsets 16..19 are valid.
	a := BlockAxis(2, 8, 20)
	assert.Equal(t, 16, a.Offsets[0])
	assert.Equal(t, []bool{true, true, true, true, false, false, false, false}, a.Mask)

	full := FullAxis(4)
	for _, valid := range full.Mask {
		assert.True(t, valid)
	}
}

func TestOuter(t *testing.T) {
	// 2-D tile over a logical 4x3 tensor addressed with an 8x4 block:
	// the mask is the AND of (i < 4) and (j < 3).
	rows := Arange(0, 8, 4)
	cols := Arange(0, 4, 3)
	idx := Outer([]Axis{rows, cols}, []int{4, 1})
	assert.Equal(t, []int{8, 4}, idx.Dims)
	assert.Equal(t, 32, idx.Size())
	for i := 0; i < 8; i++ {
		for j := 0; j < 4; j++ {
			assert.Equal(t, i*4+j, idx.Offsets[i*4+j])
			assert.Equal(t, i < 4 && j < 3, idx.Mask[i*4+j])
		}
	}

	require.Panics(t, func() { Outer(nil, nil) })
	require.Panics(t, func() { Outer([]Axis{rows, cols}, []int{4}) })
	require.Panics(t, func() {
		Outer([]Axis{rows, rows, rows, rows}, []int{1, 1, 1, 1})
	})
}

func TestOuterRank3(t *testing.T) {
	b := Arange(0, 2, 1) // second batch position masked out
	r := Arange(0, 2, 2)
	c := Arange(0, 2, 2)
	idx := Outer([]Axis{b, r, c}, []int{4, 2, 1})
	assert.Equal(t, 3, idx.Rank())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, idx.Offsets)
	assert.Equal(t, []bool{true, true, true, true, false, false, false, false}, idx.Mask)
}

func TestGather(t *testing.T) {
	buf := []float32{1, 1, 1, 1, 1}
	idx := Outer([]Axis{Arange(0, 8, 5)}, []int{1})
	got := Gather(buf, idx, 0)
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 0, 0, 0}, got)

	// Fill value is honored at masked positions.
	got = Gather(buf, idx, -7)
	assert.Equal(t, float32(-7), got[5])
}

func TestGatherMaskedOutOfRangeIsSafe(t *testing.T) {
	buf := []int32{3, 5}
	// Offsets way beyond the buffer (and negative), all masked out.
	idx := Outer([]Axis{Arange(-4, 16, 2)}, []int{100})
	require.NotPanics(t, func() {
		got := Gather(buf, idx, 0)
		for ii, v := range got {
			if !idx.Mask[ii] {
				assert.Equal(t, int32(0), v)
			}
		}
	})
}

func TestScatter(t *testing.T) {
	buf := []float32{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	idx := Outer([]Axis{Arange(0, 8, 5)}, []int{1})
	values := make([]float32, 8)
	for ii := range values {
		values[ii] = 10
	}
	Scatter(buf, idx, values)
	assert.Equal(t, []float32{10, 10, 10, 10, 10, 1, 1, 1, 1, 1, 1, 1}, buf)

	require.Panics(t, func() { Scatter(buf, idx, values[:3]) })
}
