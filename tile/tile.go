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

// Package tile implements the coordinate/mask algebra used by block-tiled kernels.
//
// A kernel instance addresses a virtual N-dimensional tensor through fixed-size
// tiles: per axis it builds an Axis, a vector of global coordinates paired with a
// validity mask (true where the coordinate falls inside the logical extent).
// Axes combine into an Index through Outer, which forms every pairing of the axes'
// offsets (scaled by a per-axis stride into the flat backing buffer) and ANDs their
// masks. Gather and Scatter then move data between a flat buffer and a tile,
// substituting a fill value (gather) or leaving the buffer untouched (scatter) at
// masked-false positions.
//
// Raw coordinates may be out of a tensor's bounds; they are only ever dereferenced
// in combination with their mask, so a masked-false out-of-range coordinate never
// faults. The algebra is fixed-rank: tiles span at most 3 axes, which is all the
// kernels in this repository need.
package tile

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tiles/types/shapes"
)

// MaxAxes is the maximum number of axes a tile may span.
const MaxAxes = 3

// Axis is a 1-D vector of global coordinates with its validity mask.
// Offsets and Mask always have the same length, the block size of the axis.
type Axis struct {
	Offsets []int
	Mask    []bool
}

// Arange returns an Axis with offsets start, start+1, ..., start+size-1, masked
// to the half-open range [0, extent). Offsets below zero (possible with sliding
// windows anchored near an edge) are masked out the same way as offsets beyond
// the extent.
func Arange(start, size, extent int) Axis {
	if size <= 0 {
		exceptions.Panicf("tile.Arange: block size must be positive, got %d", size)
	}
	a := Axis{
		Offsets: make([]int, size),
		Mask:    make([]bool, size),
	}
	for ii := range a.Offsets {
		off := start + ii
		a.Offsets[ii] = off
		a.Mask[ii] = off >= 0 && off < extent
	}
	return a
}

// BlockAxis returns the Axis for one grid instance: offsets
// blockID*blockSize + [0, blockSize), masked to [0, extent).
func BlockAxis(blockID, blockSize, extent int) Axis {
	return Arange(blockID*blockSize, blockSize, extent)
}

// FullAxis returns an Axis covering [0, size) with every position valid.
// Used for operands that are loaded whole, like a convolution's filter.
func FullAxis(size int) Axis {
	return Arange(0, size, size)
}

// Size returns the number of positions of the axis.
func (a Axis) Size() int { return len(a.Offsets) }

// Index is the flattened address set of a tile spanning 1 to 3 axes: at each tile
// position it carries the offset into the flat backing buffer and the combined
// validity of the position. Offsets at masked-false positions may be meaningless
// (even negative) and must never be dereferenced.
type Index struct {
	// Dims are the tile dimensions, one per axis.
	Dims []int

	// Offsets and Mask are row-major over Dims.
	Offsets []int
	Mask    []bool
}

// Outer combines 1 to 3 axes into a tile Index: the offset at tile position
// (i0, i1, ...) is the sum of each axis' offset scaled by its stride in the flat
// buffer, and the mask is the AND of the axes' masks. For a row-major tensor the
// strides are shapes.Shape.Strides of the extents being addressed.
func Outer(axes []Axis, strides []int) Index {
	if len(axes) == 0 || len(axes) > MaxAxes {
		exceptions.Panicf("tile.Outer: supports 1 to %d axes, got %d", MaxAxes, len(axes))
	}
	if len(strides) != len(axes) {
		exceptions.Panicf("tile.Outer: got %d axes but %d strides", len(axes), len(strides))
	}
	idx := Index{Dims: make([]int, len(axes))}
	size := 1
	for ii, a := range axes {
		idx.Dims[ii] = a.Size()
		size *= a.Size()
	}
	idx.Offsets = make([]int, size)
	idx.Mask = make([]bool, size)

	// Broadcast each axis against the others: row-major enumeration of the tile.
	pos := 0
	var recurse func(axis, offset int, valid bool)
	recurse = func(axis, offset int, valid bool) {
		if axis == len(axes) {
			idx.Offsets[pos] = offset
			idx.Mask[pos] = valid
			pos++
			return
		}
		a := axes[axis]
		stride := strides[axis]
		for ii := range a.Offsets {
			recurse(axis+1, offset+a.Offsets[ii]*stride, valid && a.Mask[ii])
		}
	}
	recurse(0, 0, true)
	return idx
}

// Size returns the number of positions of the tile.
func (idx Index) Size() int { return len(idx.Offsets) }

// Rank returns the number of axes the tile spans.
func (idx Index) Rank() int { return len(idx.Dims) }

// Gather reads buf at each of the tile's positions: buf[offset] where the mask is
// true, fill elsewhere. A masked-false position is never dereferenced, so its
// offset may be out of the buffer's range.
func Gather[T shapes.Supported](buf []T, idx Index, fill T) []T {
	out := make([]T, idx.Size())
	for ii, off := range idx.Offsets {
		if idx.Mask[ii] {
			out[ii] = buf[off]
		} else {
			out[ii] = fill
		}
	}
	return out
}

// Scatter writes values into buf at the tile's masked-true positions. All other
// positions of buf are left untouched. values must have one value per tile
// position.
func Scatter[T shapes.Supported](buf []T, idx Index, values []T) {
	if len(values) != idx.Size() {
		exceptions.Panicf("tile.Scatter: tile has %d positions, got %d values", idx.Size(), len(values))
	}
	for ii, off := range idx.Offsets {
		if idx.Mask[ii] {
			buf[off] = values[ii]
		}
	}
}
