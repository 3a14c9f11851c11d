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

// FlashAttention computes z[i] = sum_j softmax(q[i]*k)_j * v[j] for scalar
// queries/keys/values of length n0 and t respectively, in a single streaming
// pass: no second sweep and never more than one chunk of b1 (key, value) pairs
// in memory.
//
// Per chunk it forms the masked outer product q ⊗ k -- scores at masked-out key
// positions are forced to -Inf so they vanish under exp2 -- then updates the
// running maximum, the running sum of exponentials and the running weighted
// accumulator in lockstep: when the maximum moves, both the sum and the
// accumulator are rescaled by the same factor, which is what makes the final
// division accumulator/sum exact without renormalizing sweeps.
func FlashAttention(q, k, v, z []float32, n0, t, b0, b1 int) grid.Kernel {
	return func(id grid.ID) {
		is := tile.BlockAxis(id[0], b0, n0)
		iIdx := tile.Outer([]tile.Axis{is}, []int{1})
		qv := tile.Gather(q, iIdx, 0)

		maxs := make([]float32, b0)
		sums := make([]float32, b0)
		result := make([]float32, b0)
		for r := range maxs {
			maxs[r] = negInf()
		}

		scores := make([]float32, b1)
		for j0 := 0; j0 < t; j0 += b1 {
			js := tile.Arange(j0, b1, t)
			jIdx := tile.Outer([]tile.Axis{js}, []int{1})
			kv := tile.Gather(k, jIdx, 0)
			vv := tile.Gather(v, jIdx, 0)

			for r := 0; r < b0; r++ {
				chunkMax := negInf()
				for c := 0; c < b1; c++ {
					if js.Mask[c] {
						scores[c] = qv[r] * kv[c]
					} else {
						scores[c] = negInf()
					}
					chunkMax = max(chunkMax, scores[c])
				}
				newMax := max(maxs[r], chunkMax)
				if newMax == negInf() {
					// Whole chunk masked out and nothing valid seen before it.
					continue
				}
				factor := rescaleFactor(maxs[r], newMax)
				localSum := float32(0)
				localWeighted := float32(0)
				for c := 0; c < b1; c++ {
					e := exp2(log2E * (scores[c] - newMax))
					localSum += e
					localWeighted += e * vv[c]
				}
				sums[r] = sums[r]*factor + localSum
				result[r] = result[r]*factor + localWeighted
				maxs[r] = newMax
			}
		}

		for r := 0; r < b0; r++ {
			if sums[r] != 0 {
				result[r] /= sums[r]
			}
		}
		tile.Scatter(z, iIdx, result)
	}
}

func refFlashAttention(q, k, v []float32) []float32 {
	t := len(k)
	z := make([]float32, len(q))
	scores := make([]float64, t)
	for i, qv := range q {
		rowMax := math.Inf(-1)
		for j, kv := range k {
			scores[j] = float64(qv) * float64(kv)
			rowMax = math.Max(rowMax, scores[j])
		}
		var sum, weighted float64
		for j, s := range scores {
			e := math.Exp(s - rowMax)
			sum += e
			weighted += e * float64(v[j])
		}
		z[i] = float32(weighted / sum)
	}
	return z
}
