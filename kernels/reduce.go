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
	"math"

	"github.com/gomlx/tiles/grid"
	"github.com/gomlx/tiles/tile"
)

// LongSum reduces the rows of x ([n0, t] row-major) into z ([n0]): each
// instance owns a block of b0 rows and streams the t axis in chunks of b1
// elements, masked at both the row and the streamed axis bounds. Masked
// positions load as 0 and so contribute nothing to the running sum.
func LongSum(x, z []float32, n0, t, b0, b1 int) grid.Kernel {
	return func(id grid.ID) {
		rows := tile.BlockAxis(id[0], b0, n0)
		sums := make([]float32, b0)
		for j0 := 0; j0 < t; j0 += b1 {
			cols := tile.Arange(j0, b1, t)
			idx := tile.Outer([]tile.Axis{rows, cols}, []int{t, 1})
			vals := tile.Gather(x, idx, 0)
			for r := 0; r < b0; r++ {
				for c := 0; c < b1; c++ {
					sums[r] += vals[r*b1+c]
				}
			}
		}
		tile.Scatter(z, tile.Outer([]tile.Axis{rows}, []int{1}), sums)
	}
}

// SoftmaxOnline computes a numerically stable softmax over the rows of x
// ([n0, t] row-major) into z of the same shape, holding only one chunk of b1
// elements of a row at a time.
//
// First sweep: per row, maintain the running maximum and the running sum of
// exp2(log2E*(value-max)). When a chunk raises the maximum, the previous sum is
// rescaled by exp2(log2E*(oldMax-newMax)) -- exact, since
// exp(a-b) == exp(a-c)/exp(b-c) for any shared reference c. Second sweep: emit
// exp2(log2E*(value-max))/sum per element. Masked positions load as -Inf, so
// they vanish under exp2 and never influence max or sum.
func SoftmaxOnline(x, z []float32, n0, t, b0, b1 int) grid.Kernel {
	return func(id grid.ID) {
		rows := tile.BlockAxis(id[0], b0, n0)
		maxs := make([]float32, b0)
		sums := make([]float32, b0)
		for r := range maxs {
			maxs[r] = negInf()
		}

		for j0 := 0; j0 < t; j0 += b1 {
			cols := tile.Arange(j0, b1, t)
			idx := tile.Outer([]tile.Axis{rows, cols}, []int{t, 1})
			vals := tile.Gather(x, idx, negInf())
			for r := 0; r < b0; r++ {
				chunkMax := negInf()
				for c := 0; c < b1; c++ {
					chunkMax = max(chunkMax, vals[r*b1+c])
				}
				newMax := max(maxs[r], chunkMax)
				if newMax == negInf() {
					// Nothing valid seen yet: the whole row block is masked out.
					continue
				}
				localSum := float32(0)
				for c := 0; c < b1; c++ {
					localSum += exp2(log2E * (vals[r*b1+c] - newMax))
				}
				sums[r] = sums[r]*rescaleFactor(maxs[r], newMax) + localSum
				maxs[r] = newMax
			}
		}

		// Second sweep: the running statistics are final, emit the normalized values.
		for j0 := 0; j0 < t; j0 += b1 {
			cols := tile.Arange(j0, b1, t)
			idx := tile.Outer([]tile.Axis{rows, cols}, []int{t, 1})
			vals := tile.Gather(x, idx, negInf())
			for r := 0; r < b0; r++ {
				if sums[r] == 0 {
					// Fully masked-out row: nothing will be stored for it either.
					continue
				}
				for c := 0; c < b1; c++ {
					vals[r*b1+c] = exp2(log2E*(vals[r*b1+c]-maxs[r])) / sums[r]
				}
			}
			tile.Scatter(z, idx, vals)
		}
	}
}

func refLongSum(x []float32, n0, t int) []float32 {
	z := make([]float32, n0)
	for r := 0; r < n0; r++ {
		for c := 0; c < t; c++ {
			z[r] += x[r*t+c]
		}
	}
	return z
}

func refSoftmax(x []float32, n0, t int) []float32 {
	z := make([]float32, len(x))
	for r := 0; r < n0; r++ {
		row := x[r*t : (r+1)*t]
		rowMax := float32(math.Inf(-1))
		for _, v := range row {
			rowMax = max(rowMax, v)
		}
		var sum float32
		out := z[r*t : (r+1)*t]
		for c, v := range row {
			out[c] = float32(math.Exp(float64(v - rowMax)))
			sum += out[c]
		}
		for c := range out {
			out[c] /= sum
		}
	}
	return z
}
