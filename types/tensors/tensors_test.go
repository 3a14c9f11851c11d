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

package tensors

import (
	"math/rand"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tiles/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 2, 3))
	assert.Equal(t, 6, tensor.Size())
	flat := Flat[float32](tensor)
	require.Len(t, flat, 6)
	for _, v := range flat {
		assert.Equal(t, float32(0), v)
	}

	// Flat with the wrong dtype must panic.
	require.Panics(t, func() { Flat[int32](tensor) })
	require.Panics(t, func() { FromShape(shapes.Invalid()) })
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int32{1, 2, 3, 4}, 2, 2)
	assert.Equal(t, dtypes.Int32, tensor.DType())
	assert.Equal(t, []int32{1, 2, 3, 4}, Flat[int32](tensor))
	require.Panics(t, func() { FromFlatDataAndDimensions([]int32{1, 2, 3}, 2, 2) })

	// The constructor copies: mutating the original data must not leak in.
	data := []float32{1, 1}
	tensor2 := FromFlatDataAndDimensions(data, 2)
	data[0] = 7
	assert.Equal(t, float32(1), Flat[float32](tensor2)[0])
}

func TestFromScalarAndDimensions(t *testing.T) {
	tensor := FromScalarAndDimensions(float32(10), 32)
	for _, v := range Flat[float32](tensor) {
		assert.Equal(t, float32(10), v)
	}
}

func TestCloneAndEqual(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	clone := tensor.Clone()
	assert.True(t, tensor.Equal(clone))
	Flat[float32](clone)[0] = -1
	assert.False(t, tensor.Equal(clone))
	assert.Equal(t, float32(1), Flat[float32](tensor)[0])
}

func TestFillUniformIsDeterministic(t *testing.T) {
	a := FromShape(shapes.Make(dtypes.Float32, 100))
	b := FromShape(shapes.Make(dtypes.Float32, 100))
	a.FillUniform(rand.New(rand.NewSource(42)))
	b.FillUniform(rand.New(rand.NewSource(42)))
	assert.True(t, a.Equal(b))

	c := FromShape(shapes.Make(dtypes.Int32, 100))
	c.FillUniform(rand.New(rand.NewSource(42)))
	d := c.Clone()
	c.FillUniform(rand.New(rand.NewSource(42)))
	assert.True(t, c.Equal(d))
}
