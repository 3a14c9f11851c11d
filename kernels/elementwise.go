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

package kernels

import (
	"github.com/gomlx/tiles/grid"
	"github.com/gomlx/tiles/tile"
)

// ConstAdd adds 10 to a vector that fits in a single tile: block size b0 equals
// the vector length n0, so no masking is needed.
func ConstAdd(x, z []float32, n0, b0 int) grid.Kernel {
	return func(id grid.ID) {
		idx := tile.Outer([]tile.Axis{tile.FullAxis(b0)}, []int{1})
		vals := tile.Gather(x, idx, 0)
		for ii := range vals {
			vals[ii] += 10
		}
		tile.Scatter(z, idx, vals)
	}
}

// ConstAddBlocked adds 10 to a vector longer than one tile: one grid axis, each
// instance masked to its block's intersection with [0, n0).
func ConstAddBlocked(x, z []float32, n0, b0 int) grid.Kernel {
	return func(id grid.ID) {
		idx := tile.Outer([]tile.Axis{tile.BlockAxis(id[0], b0, n0)}, []int{1})
		vals := tile.Gather(x, idx, 0)
		for ii := range vals {
			vals[ii] += 10
		}
		tile.Scatter(z, idx, vals)
	}
}

// VecAddOuter computes the outer sum z[j,i] = x[i] + y[j]: two 1-D loads
// broadcast against each other into a 2-D tile. z is row-major [n1, n0].
func VecAddOuter(x, y, z []float32, n0, n1, b0, b1 int) grid.Kernel {
	return func(id grid.ID) {
		xs := tile.BlockAxis(id[0], b0, n0)
		ys := tile.BlockAxis(id[1], b1, n1)
		xv := tile.Gather(x, tile.Outer([]tile.Axis{xs}, []int{1}), 0)
		yv := tile.Gather(y, tile.Outer([]tile.Axis{ys}, []int{1}), 0)
		vals := make([]float32, b1*b0)
		for j := 0; j < b1; j++ {
			for i := 0; i < b0; i++ {
				vals[j*b0+i] = xv[i] + yv[j]
			}
		}
		tile.Scatter(z, tile.Outer([]tile.Axis{ys, xs}, []int{n0, 1}), vals)
	}
}

// MulReluOuter computes z[j,i] = relu(x[i] * y[j]), fused in one tile pass.
func MulReluOuter(x, y, z []float32, n0, n1, b0, b1 int) grid.Kernel {
	return func(id grid.ID) {
		xs := tile.BlockAxis(id[0], b0, n0)
		ys := tile.BlockAxis(id[1], b1, n1)
		xv := tile.Gather(x, tile.Outer([]tile.Axis{xs}, []int{1}), 0)
		yv := tile.Gather(y, tile.Outer([]tile.Axis{ys}, []int{1}), 0)
		vals := make([]float32, b1*b0)
		for j := 0; j < b1; j++ {
			for i := 0; i < b0; i++ {
				v := xv[i] * yv[j]
				if v < 0 {
					v = 0
				}
				vals[j*b0+i] = v
			}
		}
		tile.Scatter(z, tile.Outer([]tile.Axis{ys, xs}, []int{n0, 1}), vals)
	}
}

// MulReluBackward computes the closed-form gradient of relu(x*y) with respect to
// x: dx[j,i] = dz[j,i] * 1[x[j,i]*y[j] > 0] * y[j]. x and dz are row-major
// [n1, n0], y is [n1].
func MulReluBackward(x, y, dz, dx []float32, n0, n1, b0, b1 int) grid.Kernel {
	return func(id grid.ID) {
		is := tile.BlockAxis(id[0], b0, n0)
		js := tile.BlockAxis(id[1], b1, n1)
		ji := tile.Outer([]tile.Axis{js, is}, []int{n0, 1})
		xv := tile.Gather(x, ji, 0)
		dzv := tile.Gather(dz, ji, 0)
		yv := tile.Gather(y, tile.Outer([]tile.Axis{js}, []int{1}), 0)
		dxv := make([]float32, ji.Size())
		for j := 0; j < b1; j++ {
			for i := 0; i < b0; i++ {
				pos := j*b0 + i
				if xv[pos]*yv[j] > 0 {
					dxv[pos] = dzv[pos] * yv[j]
				}
			}
		}
		tile.Scatter(dx, ji, dxv)
	}
}

func refConstAdd(x []float32) []float32 {
	z := make([]float32, len(x))
	for ii, v := range x {
		z[ii] = v + 10
	}
	return z
}

func refVecAddOuter(x, y []float32) []float32 {
	z := make([]float32, len(y)*len(x))
	for j, yv := range y {
		for i, xv := range x {
			z[j*len(x)+i] = xv + yv
		}
	}
	return z
}

func refMulReluOuter(x, y []float32) []float32 {
	z := make([]float32, len(y)*len(x))
	for j, yv := range y {
		for i, xv := range x {
			v := xv * yv
			if v < 0 {
				v = 0
			}
			z[j*len(x)+i] = v
		}
	}
	return z
}

func refMulReluBackward(x, y, dz []float32, n0 int) []float32 {
	dx := make([]float32, len(x))
	for j, yv := range y {
		for i := 0; i < n0; i++ {
			pos := j*n0 + i
			if x[pos]*yv > 0 {
				dx[pos] = dz[pos] * yv
			}
		}
	}
	return dx
}
