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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/tiles/grid"
)

func ones(n int) []float32 {
	v := make([]float32, n)
	for ii := range v {
		v[ii] = 1
	}
	return v
}

func uniform(rng *rand.Rand, n int) []float32 {
	v := make([]float32, n)
	for ii := range v {
		v[ii] = rng.Float32()
	}
	return v
}

func assertAllClose(t *testing.T, got, want []float32) {
	t.Helper()
	require.Len(t, got, len(want))
	for ii := range want {
		assert.InDeltaf(t, want[ii], got[ii], 1e-4+1e-3*absf(want[ii]),
			"element %d doesn't match", ii)
	}
}

func absf(v float32) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}

func TestConstAdd(t *testing.T) {
	z := make([]float32, 32)
	spec := grid.New(grid.Axis{Size: 32, Block: 32})
	require.NoError(t, spec.Run(ConstAdd(make([]float32, 32), z, 32, 32)))
	for _, v := range z {
		assert.Equal(t, float32(10), v)
	}
	require.NoError(t, spec.Run(ConstAdd(ones(32), z, 32, 32)))
	for _, v := range z {
		assert.Equal(t, float32(11), v)
	}
}

func TestConstAddBlocked(t *testing.T) {
	const n0, b0 = 200, 32
	x := uniform(rand.New(rand.NewSource(1)), n0)
	z := make([]float32, n0)
	spec := grid.New(grid.Axis{Size: n0, Block: b0})
	require.NoError(t, spec.Run(ConstAddBlocked(x, z, n0, b0)))
	assertAllClose(t, z, refConstAdd(x))
}

func TestVecAddOuterBlocked(t *testing.T) {
	const n0, n1, b0, b1 = 100, 90, 32, 32
	rng := rand.New(rand.NewSource(2))
	x, y := uniform(rng, n0), uniform(rng, n1)
	z := make([]float32, n1*n0)
	spec := grid.New(grid.Axis{Size: n0, Block: b0}, grid.Axis{Size: n1, Block: b1})
	require.NoError(t, spec.Run(VecAddOuter(x, y, z, n0, n1, b0, b1)))
	assertAllClose(t, z, refVecAddOuter(x, y))
}

func TestMulReluOuter(t *testing.T) {
	const n0, n1, b0, b1 = 100, 90, 32, 32
	rng := rand.New(rand.NewSource(3))
	x, y := uniform(rng, n0), uniform(rng, n1)
	// Mix in negative values so the relu actually cuts.
	for ii := range x {
		x[ii] -= 0.5
	}
	for ii := range y {
		y[ii] -= 0.5
	}
	z := make([]float32, n1*n0)
	spec := grid.New(grid.Axis{Size: n0, Block: b0}, grid.Axis{Size: n1, Block: b1})
	require.NoError(t, spec.Run(MulReluOuter(x, y, z, n0, n1, b0, b1)))
	assertAllClose(t, z, refMulReluOuter(x, y))
}

func TestMulReluBackward(t *testing.T) {
	const n0, n1, b0, b1 = 100, 90, 32, 32
	rng := rand.New(rand.NewSource(4))
	x, y, dz := uniform(rng, n1*n0), uniform(rng, n1), uniform(rng, n1*n0)
	for ii := range y {
		y[ii] -= 0.5
	}
	dx := make([]float32, n1*n0)
	spec := grid.New(grid.Axis{Size: n0, Block: b0}, grid.Axis{Size: n1, Block: b1})
	require.NoError(t, spec.Run(MulReluBackward(x, y, dz, dx, n0, n1, b0, b1)))
	assertAllClose(t, dx, refMulReluBackward(x, y, dz, n0))
}

func TestLongSumOnes(t *testing.T) {
	// 4x200 of ones with B0=1, B1=32: every row sums to exactly 200.
	const n0, tt, b0, b1 = 4, 200, 1, 32
	z := make([]float32, n0)
	spec := grid.New(grid.Axis{Size: n0, Block: b0})
	require.NoError(t, spec.Run(LongSum(ones(n0*tt), z, n0, tt, b0, b1)))
	for _, v := range z {
		assert.Equal(t, float32(200), v)
	}
}

func TestLongSumChunkSizes(t *testing.T) {
	const n0, tt = 4, 200
	x := uniform(rand.New(rand.NewSource(5)), n0*tt)
	want := refLongSum(x, n0, tt)
	for _, b1 := range []int{1, 7, 32, 200, 256} {
		z := make([]float32, n0)
		spec := grid.New(grid.Axis{Size: n0, Block: 1})
		require.NoError(t, spec.Run(LongSum(x, z, n0, tt, 1, b1)))
		assertAllClose(t, z, want)
	}
}

func TestSoftmaxOnline(t *testing.T) {
	const n0, tt, b0, b1 = 4, 200, 1, 32
	x := uniform(rand.New(rand.NewSource(6)), n0*tt)
	z := make([]float32, n0*tt)
	spec := grid.New(grid.Axis{Size: n0, Block: b0})
	require.NoError(t, spec.Run(SoftmaxOnline(x, z, n0, tt, b0, b1)))
	assertAllClose(t, z, refSoftmax(x, n0, tt))

	// Rows sum to 1.
	for r := 0; r < n0; r++ {
		var sum float32
		for c := 0; c < tt; c++ {
			sum += z[r*tt+c]
		}
		assert.InDelta(t, 1.0, sum, 1e-3)
	}
}

func TestSoftmaxShiftInvariance(t *testing.T) {
	// softmax(x + c) == softmax(x): the running-max renormalization must absorb
	// any constant shift of the logits.
	const n0, tt, b1 = 2, 50, 16
	x := uniform(rand.New(rand.NewSource(7)), n0*tt)
	shifted := make([]float32, len(x))
	for ii, v := range x {
		shifted[ii] = v + 100
	}
	z := make([]float32, n0*tt)
	zShifted := make([]float32, n0*tt)
	spec := grid.New(grid.Axis{Size: n0, Block: 1})
	require.NoError(t, spec.Run(SoftmaxOnline(x, z, n0, tt, 1, b1)))
	require.NoError(t, spec.Run(SoftmaxOnline(shifted, zShifted, n0, tt, 1, b1)))
	assertAllClose(t, zShifted, z)
}

func TestSoftmaxChunkSizes(t *testing.T) {
	const n0, tt = 4, 200
	x := uniform(rand.New(rand.NewSource(8)), n0*tt)
	want := refSoftmax(x, n0, tt)
	for _, b1 := range []int{1, 13, 32, 200} {
		z := make([]float32, n0*tt)
		spec := grid.New(grid.Axis{Size: n0, Block: 1})
		require.NoError(t, spec.Run(SoftmaxOnline(x, z, n0, tt, 1, b1)))
		assertAllClose(t, z, want)
	}
}

func TestFlashAttention(t *testing.T) {
	const n0, tt, b0, b1 = 200, 200, 64, 32
	rng := rand.New(rand.NewSource(9))
	q, k, v := uniform(rng, n0), uniform(rng, tt), uniform(rng, tt)
	z := make([]float32, n0)
	spec := grid.New(grid.Axis{Size: n0, Block: b0})
	require.NoError(t, spec.Run(FlashAttention(q, k, v, z, n0, tt, b0, b1)))
	assertAllClose(t, z, refFlashAttention(q, k, v))
}

func TestFlashAttentionChunkSizes(t *testing.T) {
	// The single-pass renormalization must be exact for any chunk size <= T,
	// dividing T or not.
	rng := rand.New(rand.NewSource(10))
	for _, tt := range []int{8, 33, 200} {
		q, k, v := uniform(rng, tt), uniform(rng, tt), uniform(rng, tt)
		want := refFlashAttention(q, k, v)
		for _, b1 := range []int{1, 4, tt} {
			z := make([]float32, tt)
			spec := grid.New(grid.Axis{Size: tt, Block: 64})
			require.NoError(t, spec.Run(FlashAttention(q, k, v, z, tt, tt, 64, b1)))
			assertAllClose(t, z, want)
		}
	}
}

func TestConv2D(t *testing.T) {
	const n0, h, w, kh, kw, b0 = 4, 8, 8, 4, 4, 1
	rng := rand.New(rand.NewSource(11))
	x, f := uniform(rng, n0*h*w), uniform(rng, kh*kw)
	z := make([]float32, n0*h*w)
	spec := grid.New(grid.Axis{Size: n0, Block: b0})
	require.NoError(t, spec.Run(Conv2D(x, f, z, n0, h, w, kh, kw, b0)))
	assertAllClose(t, z, refConv2D(x, f, n0, h, w, kh, kw))
}

func TestMatmulTiled(t *testing.T) {
	const batch, rows, cols, mid = 4, 32, 32, 32
	rng := rand.New(rand.NewSource(12))
	x, y := uniform(rng, batch*rows*mid), uniform(rng, batch*mid*cols)
	z := make([]float32, batch*rows*cols)
	spec := grid.New(grid.Axis{Size: cols, Block: 16}, grid.Axis{Size: rows, Block: 16},
		grid.Axis{Size: batch, Block: 1})
	require.NoError(t, spec.Run(MatmulTiled(x, y, z, batch, rows, cols, mid, 1, 16, 16, 16)))
	assertAllClose(t, z, refMatmul(x, y, batch, rows, cols, mid))
}

func TestMatmulTiledBoundaryBlocks(t *testing.T) {
	// Block sizes that don't divide the extents must produce the same result as
	// ones that do: masking at the boundaries is what the test exercises.
	const batch, rows, cols, mid = 2, 9, 7, 13
	rng := rand.New(rand.NewSource(13))
	x, y := uniform(rng, batch*rows*mid), uniform(rng, batch*mid*cols)
	want := refMatmul(x, y, batch, rows, cols, mid)
	for _, blocks := range [][4]int{{1, 4, 4, 4}, {2, 8, 8, 8}, {1, 16, 16, 16}, {1, 3, 5, 2}} {
		bBatch, bRows, bCols, bMid := blocks[0], blocks[1], blocks[2], blocks[3]
		z := make([]float32, batch*rows*cols)
		spec := grid.New(grid.Axis{Size: cols, Block: bCols}, grid.Axis{Size: rows, Block: bRows},
			grid.Axis{Size: batch, Block: bBatch})
		require.NoError(t, spec.Run(MatmulTiled(x, y, z, batch, rows, cols, mid, bBatch, bRows, bCols, bMid)))
		assertAllClose(t, z, want)
	}
}

func TestUnpackNibble(t *testing.T) {
	// 0x87654321 packs the lanes 1, 2, ..., 8 low to high.
	word := int32(-0x789ABCDF) // 0x87654321 as int32
	for lane := 0; lane < FPINT; lane++ {
		assert.Equal(t, int32(lane+1), unpackNibble(word, lane))
	}
}

func TestQuantizedMatmulPreconditions(t *testing.T) {
	require.NoError(t, QuantizedMatmulPreconditions(64, 64))
	require.NoError(t, QuantizedMatmulPreconditions(128, 64))
	require.Error(t, QuantizedMatmulPreconditions(60, 60))  // not divisible by FPINT
	require.Error(t, QuantizedMatmulPreconditions(64, 60))  // block not divisible by FPINT
	require.Error(t, QuantizedMatmulPreconditions(96, 64))  // extent not divisible by block
	require.Error(t, QuantizedMatmulPreconditions(40, 8))   // not divisible by GROUP*FPINT
}

func TestQuantizedMatmulIdentityScenario(t *testing.T) {
	// All scales 1, all offsets 0, every packed weight nibble 1: the dequantized
	// weight matrix is all ones, so the result must equal a plain matmul with an
	// all-ones left operand.
	const n0, n1, mid = 32, 32, 64
	const b0, b1, bMid = 16, 16, 64
	scale := ones(n0 * mid / GROUP)
	offset := make([]int32, n0*mid/GROUP/FPINT)
	weight := make([]int32, n0*mid/FPINT)
	for ii := range weight {
		weight[ii] = 0x11111111
	}
	activation := uniform(rand.New(rand.NewSource(14)), mid*n1)

	z := make([]float32, n0*n1)
	spec := grid.New(grid.Axis{Size: n0, Block: b0}, grid.Axis{Size: n1, Block: b1})
	require.NoError(t, QuantizedMatmulPreconditions(mid, bMid))
	require.NoError(t, spec.Run(QuantizedMatmul(scale, offset, weight, activation, z, n0, n1, mid, b0, b1, bMid)))

	want := refMatmul(ones(n0*mid), activation, 1, n0, n1, mid)
	assertAllClose(t, z, want)
}

func TestQuantizedMatmulRandom(t *testing.T) {
	const n0, n1, mid = 32, 32, 64
	const b0, b1, bMid = 16, 16, 64
	rng := rand.New(rand.NewSource(15))
	scale := uniform(rng, n0*mid/GROUP)
	offset := make([]int32, n0*mid/GROUP/FPINT)
	weight := make([]int32, n0*mid/FPINT)
	for ii := range offset {
		offset[ii] = int32(rng.Uint32())
	}
	for ii := range weight {
		weight[ii] = int32(rng.Uint32())
	}
	activation := uniform(rng, mid*n1)

	z := make([]float32, n0*n1)
	spec := grid.New(grid.Axis{Size: n0, Block: b0}, grid.Axis{Size: n1, Block: b1})
	require.NoError(t, spec.Run(QuantizedMatmul(scale, offset, weight, activation, z, n0, n1, mid, b0, b1, bMid)))
	assertAllClose(t, z, refQuantizedMatmul(scale, offset, weight, activation, n0, n1, mid))
}

func TestQuantizedMatmulSmallerChunks(t *testing.T) {
	// bMid < mid: the streamed unpack must agree with the single-chunk version.
	const n0, n1, mid = 16, 8, 128
	rng := rand.New(rand.NewSource(16))
	scale := uniform(rng, n0*mid/GROUP)
	offset := make([]int32, n0*mid/GROUP/FPINT)
	weight := make([]int32, n0*mid/FPINT)
	for ii := range offset {
		offset[ii] = int32(rng.Uint32())
	}
	for ii := range weight {
		weight[ii] = int32(rng.Uint32())
	}
	activation := uniform(rng, mid*n1)
	want := refQuantizedMatmul(scale, offset, weight, activation, n0, n1, mid)

	for _, bMid := range []int{64, 128} {
		require.NoError(t, QuantizedMatmulPreconditions(mid, bMid))
		z := make([]float32, n0*n1)
		spec := grid.New(grid.Axis{Size: n0, Block: 8}, grid.Axis{Size: n1, Block: 8})
		require.NoError(t, spec.Run(QuantizedMatmul(scale, offset, weight, activation, z, n0, n1, mid, 8, 8, bMid)))
		assertAllClose(t, z, want)
	}
}

func TestAllRegistryShapesAreConsistent(t *testing.T) {
	puzzles := All()
	require.Len(t, puzzles, 12)
	for ii, p := range puzzles {
		assert.Equal(t, ii+1, p.Number)
		require.NoError(t, p.Grid.Validate(), "puzzle %q", p.Name)
		assert.NotEmpty(t, p.Inputs, "puzzle %q", p.Name)
		assert.True(t, p.Output.Ok(), "puzzle %q", p.Name)
	}
	assert.Equal(t, "flash attention", ByNumber(9).Name)
	assert.Nil(t, ByNumber(13))
}
