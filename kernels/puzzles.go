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
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/tiles/grid"
	"github.com/gomlx/tiles/types/shapes"
	"github.com/gomlx/tiles/types/tensors"
)

// Puzzle pairs a block-tiled kernel with the whole-array reference function it
// must reproduce, along with the launch configuration: input/output shapes and
// the grid of instances.
//
// Bind validates the static configuration and closes the kernel over the
// borrowed input buffers and the owned output buffer; a non-nil error means a
// precondition is violated and nothing must run. Reference computes the oracle
// output with unrestricted (non-tiled) arithmetic.
type Puzzle struct {
	Number int
	Name   string

	Inputs []shapes.Shape
	Output shapes.Shape
	Grid   grid.Spec

	Bind      func(inputs []*tensors.Tensor, output *tensors.Tensor) (grid.Kernel, error)
	Reference func(inputs []*tensors.Tensor) *tensors.Tensor
}

// All returns the puzzles in order, with the canonical launch configurations.
func All() []*Puzzle {
	return []*Puzzle{
		constAddPuzzle(),
		constAddBlockedPuzzle(),
		vecAddOuterPuzzle(),
		vecAddOuterBlockedPuzzle(),
		mulReluOuterPuzzle(),
		mulReluBackwardPuzzle(),
		longSumPuzzle(),
		softmaxOnlinePuzzle(),
		flashAttentionPuzzle(),
		conv2DPuzzle(),
		matmulTiledPuzzle(),
		quantizedMatmulPuzzle(),
	}
}

// ByNumber returns the puzzle with the given 1-based number, or nil.
func ByNumber(number int) *Puzzle {
	for _, p := range All() {
		if p.Number == number {
			return p
		}
	}
	return nil
}

func f32(dimensions ...int) shapes.Shape { return shapes.Make(dtypes.Float32, dimensions...) }
func i32(dimensions ...int) shapes.Shape { return shapes.Make(dtypes.Int32, dimensions...) }

func constAddPuzzle() *Puzzle {
	const n0, b0 = 32, 32
	return &Puzzle{
		Number: 1,
		Name:   "constant add",
		Inputs: []shapes.Shape{f32(n0)},
		Output: f32(n0),
		Grid:   grid.New(grid.Axis{Size: n0, Block: b0}),
		Bind: func(inputs []*tensors.Tensor, output *tensors.Tensor) (grid.Kernel, error) {
			return ConstAdd(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](output), n0, b0), nil
		},
		Reference: func(inputs []*tensors.Tensor) *tensors.Tensor {
			return tensors.FromFlatDataAndDimensions(refConstAdd(tensors.Flat[float32](inputs[0])), n0)
		},
	}
}

func constAddBlockedPuzzle() *Puzzle {
	const n0, b0 = 200, 32
	return &Puzzle{
		Number: 2,
		Name:   "constant add, blocked",
		Inputs: []shapes.Shape{f32(n0)},
		Output: f32(n0),
		Grid:   grid.New(grid.Axis{Size: n0, Block: b0}),
		Bind: func(inputs []*tensors.Tensor, output *tensors.Tensor) (grid.Kernel, error) {
			return ConstAddBlocked(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](output), n0, b0), nil
		},
		Reference: func(inputs []*tensors.Tensor) *tensors.Tensor {
			return tensors.FromFlatDataAndDimensions(refConstAdd(tensors.Flat[float32](inputs[0])), n0)
		},
	}
}

func vecAddOuterPuzzle() *Puzzle {
	const n0, n1, b0, b1 = 32, 32, 32, 32
	return &Puzzle{
		Number: 3,
		Name:   "outer vector add",
		Inputs: []shapes.Shape{f32(n0), f32(n1)},
		Output: f32(n1, n0),
		Grid:   grid.New(grid.Axis{Size: n0, Block: b0}, grid.Axis{Size: n1, Block: b1}),
		Bind: func(inputs []*tensors.Tensor, output *tensors.Tensor) (grid.Kernel, error) {
			return VecAddOuter(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](inputs[1]),
				tensors.Flat[float32](output), n0, n1, b0, b1), nil
		},
		Reference: func(inputs []*tensors.Tensor) *tensors.Tensor {
			return tensors.FromFlatDataAndDimensions(
				refVecAddOuter(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](inputs[1])), n1, n0)
		},
	}
}

func vecAddOuterBlockedPuzzle() *Puzzle {
	const n0, n1, b0, b1 = 100, 90, 32, 32
	return &Puzzle{
		Number: 4,
		Name:   "outer vector add, blocked",
		Inputs: []shapes.Shape{f32(n0), f32(n1)},
		Output: f32(n1, n0),
		Grid:   grid.New(grid.Axis{Size: n0, Block: b0}, grid.Axis{Size: n1, Block: b1}),
		Bind: func(inputs []*tensors.Tensor, output *tensors.Tensor) (grid.Kernel, error) {
			return VecAddOuter(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](inputs[1]),
				tensors.Flat[float32](output), n0, n1, b0, b1), nil
		},
		Reference: func(inputs []*tensors.Tensor) *tensors.Tensor {
			return tensors.FromFlatDataAndDimensions(
				refVecAddOuter(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](inputs[1])), n1, n0)
		},
	}
}

func mulReluOuterPuzzle() *Puzzle {
	const n0, n1, b0, b1 = 100, 90, 32, 32
	return &Puzzle{
		Number: 5,
		Name:   "fused outer multiply + relu",
		Inputs: []shapes.Shape{f32(n0), f32(n1)},
		Output: f32(n1, n0),
		Grid:   grid.New(grid.Axis{Size: n0, Block: b0}, grid.Axis{Size: n1, Block: b1}),
		Bind: func(inputs []*tensors.Tensor, output *tensors.Tensor) (grid.Kernel, error) {
			return MulReluOuter(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](inputs[1]),
				tensors.Flat[float32](output), n0, n1, b0, b1), nil
		},
		Reference: func(inputs []*tensors.Tensor) *tensors.Tensor {
			return tensors.FromFlatDataAndDimensions(
				refMulReluOuter(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](inputs[1])), n1, n0)
		},
	}
}

func mulReluBackwardPuzzle() *Puzzle {
	const n0, n1, b0, b1 = 100, 90, 32, 32
	return &Puzzle{
		Number: 6,
		Name:   "mul-relu backward",
		Inputs: []shapes.Shape{f32(n1, n0), f32(n1), f32(n1, n0)},
		Output: f32(n1, n0),
		Grid:   grid.New(grid.Axis{Size: n0, Block: b0}, grid.Axis{Size: n1, Block: b1}),
		Bind: func(inputs []*tensors.Tensor, output *tensors.Tensor) (grid.Kernel, error) {
			return MulReluBackward(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](inputs[1]),
				tensors.Flat[float32](inputs[2]), tensors.Flat[float32](output), n0, n1, b0, b1), nil
		},
		Reference: func(inputs []*tensors.Tensor) *tensors.Tensor {
			return tensors.FromFlatDataAndDimensions(
				refMulReluBackward(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](inputs[1]),
					tensors.Flat[float32](inputs[2]), n0), n1, n0)
		},
	}
}

func longSumPuzzle() *Puzzle {
	const n0, t, b0, b1 = 4, 200, 1, 32
	return &Puzzle{
		Number: 7,
		Name:   "long sum",
		Inputs: []shapes.Shape{f32(n0, t)},
		Output: f32(n0),
		Grid:   grid.New(grid.Axis{Size: n0, Block: b0}),
		Bind: func(inputs []*tensors.Tensor, output *tensors.Tensor) (grid.Kernel, error) {
			return LongSum(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](output), n0, t, b0, b1), nil
		},
		Reference: func(inputs []*tensors.Tensor) *tensors.Tensor {
			return tensors.FromFlatDataAndDimensions(refLongSum(tensors.Flat[float32](inputs[0]), n0, t), n0)
		},
	}
}

func softmaxOnlinePuzzle() *Puzzle {
	const n0, t, b0, b1 = 4, 200, 1, 32
	return &Puzzle{
		Number: 8,
		Name:   "online softmax",
		Inputs: []shapes.Shape{f32(n0, t)},
		Output: f32(n0, t),
		Grid:   grid.New(grid.Axis{Size: n0, Block: b0}),
		Bind: func(inputs []*tensors.Tensor, output *tensors.Tensor) (grid.Kernel, error) {
			return SoftmaxOnline(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](output), n0, t, b0, b1), nil
		},
		Reference: func(inputs []*tensors.Tensor) *tensors.Tensor {
			return tensors.FromFlatDataAndDimensions(refSoftmax(tensors.Flat[float32](inputs[0]), n0, t), n0, t)
		},
	}
}

func flashAttentionPuzzle() *Puzzle {
	const n0, t, b0, b1 = 200, 200, 64, 32
	return &Puzzle{
		Number: 9,
		Name:   "flash attention",
		Inputs: []shapes.Shape{f32(n0), f32(t), f32(t)},
		Output: f32(n0),
		Grid:   grid.New(grid.Axis{Size: n0, Block: b0}),
		Bind: func(inputs []*tensors.Tensor, output *tensors.Tensor) (grid.Kernel, error) {
			return FlashAttention(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](inputs[1]),
				tensors.Flat[float32](inputs[2]), tensors.Flat[float32](output), n0, t, b0, b1), nil
		},
		Reference: func(inputs []*tensors.Tensor) *tensors.Tensor {
			return tensors.FromFlatDataAndDimensions(
				refFlashAttention(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](inputs[1]),
					tensors.Flat[float32](inputs[2])), n0)
		},
	}
}

func conv2DPuzzle() *Puzzle {
	const n0, h, w, kh, kw, b0 = 4, 8, 8, 4, 4, 1
	return &Puzzle{
		Number: 10,
		Name:   "2-D convolution",
		Inputs: []shapes.Shape{f32(n0, h, w), f32(kh, kw)},
		Output: f32(n0, h, w),
		Grid:   grid.New(grid.Axis{Size: n0, Block: b0}),
		Bind: func(inputs []*tensors.Tensor, output *tensors.Tensor) (grid.Kernel, error) {
			return Conv2D(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](inputs[1]),
				tensors.Flat[float32](output), n0, h, w, kh, kw, b0), nil
		},
		Reference: func(inputs []*tensors.Tensor) *tensors.Tensor {
			return tensors.FromFlatDataAndDimensions(
				refConv2D(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](inputs[1]), n0, h, w, kh, kw),
				n0, h, w)
		},
	}
}

func matmulTiledPuzzle() *Puzzle {
	const batch, rows, cols, mid = 4, 32, 32, 32
	const bBatch, bRows, bCols, bMid = 1, 16, 16, 16
	return &Puzzle{
		Number: 11,
		Name:   "tiled matmul",
		Inputs: []shapes.Shape{f32(batch, rows, mid), f32(batch, mid, cols)},
		Output: f32(batch, rows, cols),
		Grid: grid.New(grid.Axis{Size: cols, Block: bCols}, grid.Axis{Size: rows, Block: bRows},
			grid.Axis{Size: batch, Block: bBatch}),
		Bind: func(inputs []*tensors.Tensor, output *tensors.Tensor) (grid.Kernel, error) {
			return MatmulTiled(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](inputs[1]),
				tensors.Flat[float32](output), batch, rows, cols, mid, bBatch, bRows, bCols, bMid), nil
		},
		Reference: func(inputs []*tensors.Tensor) *tensors.Tensor {
			return tensors.FromFlatDataAndDimensions(
				refMatmul(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](inputs[1]),
					batch, rows, cols, mid), batch, rows, cols)
		},
	}
}

func quantizedMatmulPuzzle() *Puzzle {
	const n0, n1, mid = 32, 32, 64
	const b0, b1, bMid = 16, 16, 64
	return &Puzzle{
		Number: 12,
		Name:   "quantized matmul",
		Inputs: []shapes.Shape{
			f32(n0, mid/GROUP),         // scales, one per group
			i32(n0, mid/GROUP/FPINT),   // packed 4-bit offsets, one word per FPINT groups
			i32(n0, mid/FPINT),         // packed 4-bit weights
			f32(mid, n1),               // activations
		},
		Output: f32(n0, n1),
		Grid:   grid.New(grid.Axis{Size: n0, Block: b0}, grid.Axis{Size: n1, Block: b1}),
		Bind: func(inputs []*tensors.Tensor, output *tensors.Tensor) (grid.Kernel, error) {
			if err := QuantizedMatmulPreconditions(mid, bMid); err != nil {
				return nil, err
			}
			return QuantizedMatmul(tensors.Flat[float32](inputs[0]), tensors.Flat[int32](inputs[1]),
				tensors.Flat[int32](inputs[2]), tensors.Flat[float32](inputs[3]),
				tensors.Flat[float32](output), n0, n1, mid, b0, b1, bMid), nil
		},
		Reference: func(inputs []*tensors.Tensor) *tensors.Tensor {
			return tensors.FromFlatDataAndDimensions(
				refQuantizedMatmul(tensors.Flat[float32](inputs[0]), tensors.Flat[int32](inputs[1]),
					tensors.Flat[int32](inputs[2]), tensors.Flat[float32](inputs[3]), n0, n1, mid), n0, n1)
		},
	}
}
