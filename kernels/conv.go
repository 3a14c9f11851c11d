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

// Conv2D computes a batched single-channel 2-D convolution of x ([n0, h, w]
// row-major) with filter f ([kh, kw]) into z ([n0, h, w]): each output pixel is
// the sum of the filter times the kh x kw window anchored at it. Windows that
// overrun the bottom/right edges are masked, so out-of-image positions
// contribute zero -- the whole-array reference achieves the same by
// zero-padding.
//
// Each instance owns a block of b0 batches and slides the window over every
// (row, col) anchor, loading one [b0, kh, kw] tile per anchor.
func Conv2D(x, f, z []float32, n0, h, w, kh, kw, b0 int) grid.Kernel {
	return func(id grid.ID) {
		batches := tile.BlockAxis(id[0], b0, n0)
		filter := tile.Gather(f,
			tile.Outer([]tile.Axis{tile.FullAxis(kh), tile.FullAxis(kw)}, []int{kw, 1}), 0)

		sums := make([]float32, b0)
		for row := 0; row < h; row++ {
			winRows := tile.Arange(row, kh, h)
			for col := 0; col < w; col++ {
				winCols := tile.Arange(col, kw, w)
				win := tile.Outer([]tile.Axis{batches, winRows, winCols}, []int{h * w, w, 1})
				vals := tile.Gather(x, win, 0)
				for b := 0; b < b0; b++ {
					sum := float32(0)
					for p := 0; p < kh*kw; p++ {
						sum += vals[b*kh*kw+p] * filter[p]
					}
					sums[b] = sum
				}
				out := tile.Outer(
					[]tile.Axis{batches, tile.Arange(row, 1, h), tile.Arange(col, 1, w)},
					[]int{h * w, w, 1})
				tile.Scatter(z, out, sums)
			}
		}
	}
}

func refConv2D(x, f []float32, n0, h, w, kh, kw int) []float32 {
	z := make([]float32, n0*h*w)
	for b := 0; b < n0; b++ {
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				var sum float32
				for fr := 0; fr < kh; fr++ {
					for fc := 0; fc < kw; fc++ {
						r, c := row+fr, col+fc
						if r >= h || c >= w {
							continue
						}
						sum += f[fr*kw+fc] * x[(b*h+r)*w+c]
					}
				}
				z[(b*h+row)*w+col] = sum
			}
		}
	}
	return z
}
