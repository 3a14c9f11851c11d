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
	"github.com/pkg/errors"

	"github.com/gomlx/tiles/grid"
	"github.com/gomlx/tiles/tile"
)

const (
	// WeightBits is the precision of one quantized weight.
	WeightBits = 4

	// FPINT is the number of packed sub-values per int32 storage word.
	FPINT = 32 / WeightBits

	// GROUP is the number of contiguous logical weights sharing one scale and
	// one (packed 4-bit) offset.
	GROUP = 8

	nibbleMask = 1<<WeightBits - 1
)

// QuantizedMatmulPreconditions validates the static shape relationships the
// packed-index arithmetic relies on. Violations are a configuration error,
// detected before any instance runs.
func QuantizedMatmulPreconditions(mid, bMid int) error {
	if mid%FPINT != 0 {
		return errors.Errorf("contraction extent %d is not divisible by FPINT=%d", mid, FPINT)
	}
	if mid%GROUP != 0 {
		return errors.Errorf("contraction extent %d is not divisible by GROUP=%d", mid, GROUP)
	}
	if bMid%FPINT != 0 {
		return errors.Errorf("contraction block size %d is not divisible by FPINT=%d", bMid, FPINT)
	}
	if mid%bMid != 0 {
		return errors.Errorf("contraction extent %d is not divisible by block size %d", mid, bMid)
	}
	if mid%(GROUP*FPINT) != 0 {
		// The packed offsets occupy mid/GROUP nibbles per row; whole words only.
		return errors.Errorf("contraction extent %d is not divisible by GROUP*FPINT=%d", mid, GROUP*FPINT)
	}
	return nil
}

// QuantizedMatmul computes z = dequantize(weight) @ activation with the weight
// matrix stored in packed 4-bit precision: weight holds FPINT quantized values
// per int32 word ([n0, mid/FPINT] words row-major), and per GROUP contiguous
// weights of a row there is one float scale ([n0, mid/GROUP]) and one 4-bit
// offset, itself packed FPINT to a word ([n0, mid/GROUP/FPINT]). A logical
// weight dequantizes as scale * (w - offset) where w and offset are the
// unpacked nibbles. activation is [mid, n1] and z is [n0, n1], both plain
// floats.
//
// The outer accumulation loop is the same as MatmulTiled's; only the left
// operand tile is produced by unpack+dequantize instead of a direct load.
// Callers must check QuantizedMatmulPreconditions first.
func QuantizedMatmul(scale []float32, offset, weight []int32, activation, z []float32, n0, n1, mid, b0, b1, bMid int) grid.Kernel {
	wordsPerRow := mid / FPINT
	groupsPerRow := mid / GROUP
	offsetWordsPerRow := groupsPerRow / FPINT

	return func(id grid.ID) {
		ms := tile.BlockAxis(id[0], b0, n0)
		ns := tile.BlockAxis(id[1], b1, n1)

		acc := make([]float32, b0*b1)
		quant := make([]float32, b0*bMid)
		deq := make([]float32, b0*bMid)
		for k := 0; k < mid; k += bMid {
			// Packed weight words for this chunk: [b0, bMid/FPINT].
			words := tile.Gather(weight,
				tile.Outer([]tile.Axis{ms, tile.Arange(k/FPINT, bMid/FPINT, wordsPerRow)},
					[]int{wordsPerRow, 1}), 0)
			for r := 0; r < b0; r++ {
				for wi := 0; wi < bMid/FPINT; wi++ {
					word := words[r*(bMid/FPINT)+wi]
					for lane := 0; lane < FPINT; lane++ {
						quant[r*bMid+wi*FPINT+lane] = float32((word >> (lane * WeightBits)) & nibbleMask)
					}
				}
			}

			// One scale and one packed offset nibble per GROUP logical positions:
			// position k+i reads group (k+i)/GROUP, whose offset lives in word
			// (k+i)/GROUP/FPINT at nibble (k+i)/GROUP % FPINT.
			groups := make([]int, bMid)
			for i := range groups {
				groups[i] = (k + i) / GROUP
			}
			scaleCols := tile.Axis{Offsets: groups, Mask: make([]bool, bMid)}
			offsetCols := tile.Axis{Offsets: make([]int, bMid), Mask: make([]bool, bMid)}
			for i, g := range groups {
				scaleCols.Mask[i] = g < groupsPerRow
				offsetCols.Offsets[i] = g / FPINT
				offsetCols.Mask[i] = g < groupsPerRow
			}
			scales := tile.Gather(scale,
				tile.Outer([]tile.Axis{ms, scaleCols}, []int{groupsPerRow, 1}), 0)
			offWords := tile.Gather(offset,
				tile.Outer([]tile.Axis{ms, offsetCols}, []int{offsetWordsPerRow, 1}), 0)
			for r := 0; r < b0; r++ {
				for i := 0; i < bMid; i++ {
					pos := r*bMid + i
					shift := (groups[i] % FPINT) * WeightBits
					offNibble := float32((offWords[pos] >> shift) & nibbleMask)
					deq[pos] = scales[pos] * (quant[pos] - offNibble)
				}
			}

			// Activation chunk [bMid, b1], then fused multiply-accumulate.
			act := tile.Gather(activation,
				tile.Outer([]tile.Axis{tile.Arange(k, bMid, mid), ns}, []int{n1, 1}), 0)
			dotAccumulate(acc, deq, act, 1, b0, bMid, b1)
		}

		tile.Scatter(z, tile.Outer([]tile.Axis{ms, ns}, []int{n1, 1}), acc)
	}
}

// unpackNibble extracts the lane-th 4-bit value of a packed word.
func unpackNibble(word int32, lane int) int32 {
	return (word >> (lane * WeightBits)) & nibbleMask
}

// refQuantizedMatmul dequantizes the whole weight matrix at once and multiplies:
// the unrestricted-arithmetic oracle for QuantizedMatmul.
func refQuantizedMatmul(scale []float32, offset, weight []int32, activation []float32, n0, n1, mid int) []float32 {
	deq := make([]float32, n0*mid)
	for r := 0; r < n0; r++ {
		for l := 0; l < mid; l++ {
			w := unpackNibble(weight[r*(mid/FPINT)+l/FPINT], l%FPINT)
			group := l / GROUP
			off := unpackNibble(offset[r*(mid/GROUP/FPINT)+group/FPINT], group%FPINT)
			deq[r*mid+l] = scale[r*(mid/GROUP)+group] * float32(w-off)
		}
	}
	z := make([]float32, n0*n1)
	for r := 0; r < n0; r++ {
		for l := 0; l < mid; l++ {
			dv := deq[r*mid+l]
			for c := 0; c < n1; c++ {
				z[r*n1+c] += dv * activation[l*n1+c]
			}
		}
	}
	return z
}
