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

// MatmulTiled computes the batched matrix product z = x @ y with x of shape
// [batch, rows, mid], y of shape [batch, mid, cols] and z of shape
// [batch, rows, cols], all row-major. Grid axes are (cols, rows, batch); each
// instance owns one [bBatch, bRows, bCols] output tile and accumulates over the
// contraction axis in chunks of bMid: load a masked [bBatch, bRows, bMid] tile
// of x and a masked [bBatch, bMid, bCols] tile of y, multiply-accumulate,
// repeat. Out-of-range positions load as zero, which is what keeps partial
// boundary tiles exact without special-casing the last chunk.
func MatmulTiled(x, y, z []float32, batch, rows, cols, mid, bBatch, bRows, bCols, bMid int) grid.Kernel {
	return func(id grid.ID) {
		ns := tile.BlockAxis(id[0], bCols, cols)
		ms := tile.BlockAxis(id[1], bRows, rows)
		bs := tile.BlockAxis(id[2], bBatch, batch)

		acc := make([]float32, bBatch*bRows*bCols)
		for k := 0; k < mid; k += bMid {
			ks := tile.Arange(k, bMid, mid)
			lhs := tile.Gather(x,
				tile.Outer([]tile.Axis{bs, ms, ks}, []int{rows * mid, mid, 1}), 0)
			rhs := tile.Gather(y,
				tile.Outer([]tile.Axis{bs, ks, ns}, []int{mid * cols, cols, 1}), 0)
			dotAccumulate(acc, lhs, rhs, bBatch, bRows, bMid, bCols)
		}

		out := tile.Outer([]tile.Axis{bs, ms, ns}, []int{rows * cols, cols, 1})
		tile.Scatter(z, out, acc)
	}
}

func refMatmul(x, y []float32, batch, rows, cols, mid int) []float32 {
	z := make([]float32, batch*rows*cols)
	for b := 0; b < batch; b++ {
		for i := 0; i < rows; i++ {
			for k := 0; k < mid; k++ {
				xv := x[(b*rows+i)*mid+k]
				for j := 0; j < cols; j++ {
					z[(b*rows+i)*cols+j] += xv * y[(b*mid+k)*cols+j]
				}
			}
		}
	}
	return z
}
