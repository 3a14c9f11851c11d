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

// Package grid declares and runs the grid of parallel kernel instances.
//
// A Spec holds up to 3 axes, each a (Size, Block) pair: the axis spawns
// ceil(Size/Block) instances. Run invokes the kernel once per instance-id
// combination. Instances are logically independent -- each writes a disjoint
// region of the output tensor through masked scatters -- so Run executes them on
// a bounded pool of goroutines with no synchronization beyond the final wait.
// Within one instance any streaming loop is sequential; only the grid level is
// parallel.
package grid

import (
	"runtime"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// MaxAxes is the maximum number of grid axes a kernel may query.
const MaxAxes = 3

// Axis declares one grid axis: a logical extent of Size elements processed in
// tiles of Block elements each.
type Axis struct {
	Size, Block int
}

// Blocks returns the number of instances the axis spawns: ceil(Size/Block).
func (a Axis) Blocks() int {
	return (a.Size + a.Block - 1) / a.Block
}

// ID identifies one kernel instance: the per-axis block id. Axes beyond the
// grid's rank are always 0.
type ID [MaxAxes]int

// Kernel is one program instance body: invoked once per grid cell with the
// cell's instance id bound. All output happens through scatter writes; there is
// no return value.
type Kernel func(id ID)

// Spec declares a grid of parallel kernel instances.
type Spec struct {
	Axes []Axis
}

// New returns a Spec over the given axes.
func New(axes ...Axis) Spec {
	return Spec{Axes: axes}
}

// Validate checks that the grid is well-formed: 1 to MaxAxes axes, all with
// positive sizes and block sizes.
func (s Spec) Validate() error {
	if len(s.Axes) == 0 || len(s.Axes) > MaxAxes {
		return errors.Errorf("grid must have 1 to %d axes, got %d", MaxAxes, len(s.Axes))
	}
	for ii, a := range s.Axes {
		if a.Size <= 0 || a.Block <= 0 {
			return errors.Errorf("grid axis %d must have positive size and block, got size=%d block=%d",
				ii, a.Size, a.Block)
		}
	}
	return nil
}

// NumInstances returns the total number of kernel instances of the grid.
func (s Spec) NumInstances() int {
	n := 1
	for _, a := range s.Axes {
		n *= a.Blocks()
	}
	return n
}

// Run invokes kernel once per instance-id combination, on up to GOMAXPROCS
// concurrent goroutines. The enumeration order across instances is unspecified
// and kernels must not depend on it.
//
// A kernel panic fails the whole run: the first captured panic is returned as an
// error after all started instances finish.
func (s Spec) Run(kernel Kernel) error {
	if err := s.Validate(); err != nil {
		return err
	}
	var group errgroup.Group
	group.SetLimit(runtime.GOMAXPROCS(0))
	for _, id := range s.instances() {
		group.Go(func() error {
			return exceptions.TryCatch[error](func() { kernel(id) })
		})
	}
	return group.Wait()
}

// RunSequential is Run on a single goroutine, in row-major instance order.
// Useful when debugging a kernel.
func (s Spec) RunSequential(kernel Kernel) error {
	if err := s.Validate(); err != nil {
		return err
	}
	for _, id := range s.instances() {
		err := exceptions.TryCatch[error](func() { kernel(id) })
		if err != nil {
			return err
		}
	}
	return nil
}

// instances enumerates every instance id, row-major over the axes.
func (s Spec) instances() []ID {
	blocks := [MaxAxes]int{1, 1, 1}
	for ii, a := range s.Axes {
		blocks[ii] = a.Blocks()
	}
	ids := make([]ID, 0, s.NumInstances())
	for i2 := 0; i2 < blocks[2]; i2++ {
		for i1 := 0; i1 < blocks[1]; i1++ {
			for i0 := 0; i0 < blocks[0]; i0++ {
				ids = append(ids, ID{i0, i1, i2})
			}
		}
	}
	return ids
}
