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

// Package tensors implements a Tensor, a representation of a multi-dimensional array.
//
// Tensors are defined by their shape (a data type and its axes' dimensions) and their
// actual content, stored as a flat (1D) row-major slice of the underlying data type.
//
// There are various ways to construct a Tensor from local data:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T shapes.Supported](value T, dimensions ...int): creates a Tensor
//     with the given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T shapes.Supported](data []T, dimensions ...int): creates a
//     Tensor with the given dimensions, and sets the flattened values with the given data.
//     Example:
//
//     t := FromFlatDataAndDimensions([]int32{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
// Kernels borrow a tensor's flat data through Flat, which returns the typed backing slice:
// inputs are read through masked gathers and the single output tensor of a kernel run is
// mutated through masked scatters only.
package tensors

import (
	"fmt"
	"math/rand"
	"reflect"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tiles/types/shapes"
)

// Tensor represents a multidimensional array of one of the supported dtypes
// (Float32 or Int32), stored as a flat row-major slice.
type Tensor struct {
	// shape of the tensor. Immutable after construction.
	shape shapes.Shape

	// flat holds the slice with actual data: a []float32 or []int32 of length shape.Size().
	flat any
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size())
	return &Tensor{shape: shape, flat: flatV.Interface()}
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, backed by the
// flattened values given in data. The length of data must match the product of dimensions.
func FromFlatDataAndDimensions[T shapes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions(%s): data has %d values, shape needs %d",
			shape, len(data), shape.Size())
	}
	flat := make([]T, len(data))
	copy(flat, data)
	return &Tensor{shape: shape, flat: flat}
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled with the
// scalar value given.
func FromScalarAndDimensions[T shapes.Supported](value T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	flat := make([]T, shape.Size())
	for ii := range flat {
		flat[ii] = value
	}
	return &Tensor{shape: shape, flat: flat}
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size is the number of elements stored in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Flat returns the tensor's backing flat slice, typed.
// It panics if T doesn't match the tensor's dtype.
// The returned slice is aliased to the tensor contents: writes are visible immediately.
func Flat[T shapes.Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		exceptions.Panicf("tensors.Flat[%T]: tensor dtype is %s", *new(T), t.shape.DType)
	}
	return flat
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := FromShape(t.shape.Clone())
	reflect.Copy(reflect.ValueOf(clone.flat), reflect.ValueOf(t.flat))
	return clone
}

// Equal checks weather t == t2, element-wise.
func (t *Tensor) Equal(t2 *Tensor) bool {
	if !t.shape.Equal(t2.shape) {
		return false
	}
	switch flat := t.flat.(type) {
	case []float32:
		flat2 := t2.flat.([]float32)
		for ii, v := range flat {
			if v != flat2[ii] {
				return false
			}
		}
	case []int32:
		flat2 := t2.flat.([]int32)
		for ii, v := range flat {
			if v != flat2[ii] {
				return false
			}
		}
	}
	return true
}

// FillUniform fills the tensor with pseudo-random values from rng: Float32 tensors
// get uniform values in [0, 1), Int32 tensors get uniformly distributed 32-bit
// patterns (each 4-bit nibble is uniform, which is what the packed quantized
// kernels consume).
func (t *Tensor) FillUniform(rng *rand.Rand) {
	switch flat := t.flat.(type) {
	case []float32:
		for ii := range flat {
			flat[ii] = rng.Float32()
		}
	case []int32:
		for ii := range flat {
			flat[ii] = int32(rng.Uint32())
		}
	default:
		exceptions.Panicf("Tensor.FillUniform: unsupported dtype %s", t.shape.DType)
	}
}

// String prints the shape and a summary of the values.
func (t *Tensor) String() string {
	const maxValues = 16
	var b strings.Builder
	fmt.Fprintf(&b, "%s: ", t.shape)
	flatV := reflect.ValueOf(t.flat)
	n := min(flatV.Len(), maxValues)
	fmt.Fprint(&b, "[")
	for ii := 0; ii < n; ii++ {
		if ii > 0 {
			fmt.Fprint(&b, " ")
		}
		fmt.Fprintf(&b, "%v", flatV.Index(ii).Interface())
	}
	if flatV.Len() > maxValues {
		fmt.Fprint(&b, " ...")
	}
	fmt.Fprint(&b, "]")
	return b.String()
}
