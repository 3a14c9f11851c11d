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

// Package kernels implements the block-tiled puzzle kernels and their
// whole-array reference functions.
//
// Each kernel addresses its tensors through the tile package's coordinate/mask
// algebra: bounded-size tile loads (tile.Gather) and stores (tile.Scatter) with
// boundary masking, never touching an element outside the logical extents. The
// reference functions compute the same results with unrestricted arithmetic and
// serve as the correctness oracle for the conformance harness.
//
// The streaming kernels (long sum, online softmax, flash attention, tiled
// matmul, quantized matmul) never materialize a full row or contraction axis:
// they hold one chunk at a time and carry running statistics or partial sums
// across chunks.
package kernels

import (
	"math"
)

// log2E converts natural exponents to base-2 exponents: exp(x) == exp2(log2E*x).
// The streaming softmax kernels work in base 2.
const log2E = 1.44269504

func exp2(x float32) float32 {
	return float32(math.Exp2(float64(x)))
}

func negInf() float32 {
	return float32(math.Inf(-1))
}

// rescaleFactor returns exp2(log2E*(last-next)), the factor that re-references
// running exponential sums from max last to max next. It is 1 when the max did
// not move, including when both are still -Inf (no valid value seen yet), which
// would otherwise produce a NaN.
func rescaleFactor(last, next float32) float32 {
	if next == last {
		return 1
	}
	return exp2(log2E * (last - next))
}

// dotAccumulate computes acc += a @ b per batch, over tiles held as flat
// row-major slices: a is [batches, m, k], b is [batches, k, n] and acc is
// [batches, m, n]. Masked-out tile positions were loaded as 0 and contribute
// nothing to the accumulation.
func dotAccumulate(acc, a, b []float32, batches, m, k, n int) {
	for batch := 0; batch < batches; batch++ {
		aBase := batch * m * k
		bBase := batch * k * n
		accBase := batch * m * n
		for i := 0; i < m; i++ {
			for kk := 0; kk < k; kk++ {
				av := a[aBase+i*k+kk]
				if av == 0 {
					continue
				}
				row := acc[accBase+i*n : accBase+(i+1)*n]
				bRow := b[bBase+kk*n : bBase+(kk+1)*n]
				for j, bv := range bRow {
					row[j] += av * bv
				}
			}
		}
	}
}
