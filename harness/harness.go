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

// Package harness runs a puzzle's kernel and reference function on identical
// pseudo-random inputs and asserts element-wise closeness.
//
// A run is deterministic in its seed: the same seed produces the same inputs
// and therefore the same pass/fail outcome. A failed comparison is reported as
// a *ToleranceError carrying the maximum observed deviation and its location;
// a violated static precondition surfaces as the bind error, before any
// instance runs. Both are terminal for the run -- there are no retries.
package harness

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/tiles/kernels"
	"github.com/gomlx/tiles/types/tensors"
)

// Element-wise closeness: |got-want| <= ATol + RTol*|want|.
const (
	ATol = 1e-4
	RTol = 1e-3
)

// Result of one puzzle run.
type Result struct {
	Puzzle *kernels.Puzzle

	// MaxAbsDiff is the largest |got-want| observed over the output, whether or
	// not it exceeds the tolerance.
	MaxAbsDiff float64

	// Elements compared.
	Elements int
}

// ToleranceError reports that a kernel's output diverged from the reference
// beyond the allowed tolerance.
type ToleranceError struct {
	Name string

	// MaxAbsDiff and FlatIndex locate the worst deviation.
	MaxAbsDiff float64
	FlatIndex  int
	Got, Want  float64

	// Failed counts the elements beyond tolerance.
	Failed, Elements int
}

// Error implements the error interface with a human-readable diff summary.
func (e *ToleranceError) Error() string {
	return fmt.Sprintf("puzzle %q: %d of %d elements beyond tolerance (atol=%g, rtol=%g); "+
		"worst at flat index %d: got %v, want %v (|diff|=%g)",
		e.Name, e.Failed, e.Elements, ATol, RTol, e.FlatIndex, e.Got, e.Want, e.MaxAbsDiff)
}

// Run executes one puzzle: build pseudo-random inputs from seed, bind and run
// the kernel over its grid, compute the reference output and compare.
//
// It returns the comparison summary and a nil error on a pass. A non-nil error
// is either a configuration error (reported before any instance ran), a kernel
// panic captured by the grid, or a *ToleranceError.
func Run(p *kernels.Puzzle, seed int64) (*Result, error) {
	rng := rand.New(rand.NewSource(seed))
	inputs := make([]*tensors.Tensor, len(p.Inputs))
	for ii, shape := range p.Inputs {
		inputs[ii] = tensors.FromShape(shape)
		inputs[ii].FillUniform(rng)
	}
	output := tensors.FromShape(p.Output)

	kernel, err := p.Bind(inputs, output)
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration of puzzle %q", p.Name)
	}
	klog.V(1).Infof("puzzle %q: running %d instances over grid %v", p.Name, p.Grid.NumInstances(), p.Grid.Axes)
	if err = p.Grid.Run(kernel); err != nil {
		return nil, errors.WithMessagef(err, "running puzzle %q", p.Name)
	}

	want := p.Reference(inputs)
	return compare(p, output, want)
}

// compare checks got against want element-wise.
func compare(p *kernels.Puzzle, got, want *tensors.Tensor) (*Result, error) {
	gotFlat := tensors.Flat[float32](got)
	wantFlat := tensors.Flat[float32](want)
	result := &Result{Puzzle: p, Elements: len(wantFlat)}
	failure := &ToleranceError{Name: p.Name, Elements: len(wantFlat)}
	for ii, w := range wantFlat {
		g := gotFlat[ii]
		diff := math.Abs(float64(g) - float64(w))
		if diff > result.MaxAbsDiff {
			result.MaxAbsDiff = diff
		}
		if diff > ATol+RTol*math.Abs(float64(w)) {
			failure.Failed++
			if diff > failure.MaxAbsDiff {
				failure.MaxAbsDiff = diff
				failure.FlatIndex = ii
				failure.Got, failure.Want = float64(g), float64(w)
			}
		}
	}
	if failure.Failed > 0 {
		return result, failure
	}
	klog.V(1).Infof("puzzle %q: pass, max |diff|=%g over %d elements", p.Name, result.MaxAbsDiff, result.Elements)
	return result, nil
}

// RunAll runs the puzzles in sequence with the same seed, stopping at the first
// failure so the earliest divergence is not masked by later ones. It returns
// the results of the puzzles that ran (the last one carrying the failure, if
// any) and the first error encountered.
func RunAll(puzzles []*kernels.Puzzle, seed int64, observer func(*Result, error)) ([]*Result, error) {
	results := make([]*Result, 0, len(puzzles))
	for _, p := range puzzles {
		result, err := Run(p, seed)
		if result != nil {
			results = append(results, result)
		}
		if observer != nil {
			observer(result, err)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
