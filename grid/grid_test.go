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

package grid

import (
	"sync"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAxisBlocks(t *testing.T) {
	assert.Equal(t, 1, Axis{Size: 32, Block: 32}.Blocks())
	assert.Equal(t, 7, Axis{Size: 200, Block: 32}.Blocks())
	assert.Equal(t, 4, Axis{Size: 4, Block: 1}.Blocks())
}

func TestValidate(t *testing.T) {
	require.NoError(t, New(Axis{200, 32}).Validate())
	require.Error(t, New().Validate())
	require.Error(t, New(Axis{1, 1}, Axis{1, 1}, Axis{1, 1}, Axis{1, 1}).Validate())
	require.Error(t, New(Axis{0, 32}).Validate())
	require.Error(t, New(Axis{32, 0}).Validate())
}

func TestRunEnumeratesEveryInstance(t *testing.T) {
	spec := New(Axis{100, 32}, Axis{90, 32}, Axis{4, 1})
	assert.Equal(t, 4*3*4, spec.NumInstances())

	var mu sync.Mutex
	seen := make(map[ID]int)
	require.NoError(t, spec.Run(func(id ID) {
		mu.Lock()
		defer mu.Unlock()
		seen[id]++
	}))
	assert.Len(t, seen, spec.NumInstances())
	for id, count := range seen {
		assert.Equalf(t, 1, count, "instance %v ran %d times", id, count)
	}
}

func TestRunDisjointWrites(t *testing.T) {
	// Each instance owns a disjoint slice of the output: no synchronization needed.
	out := make([]int, 64)
	spec := New(Axis{64, 8})
	require.NoError(t, spec.Run(func(id ID) {
		for ii := id[0] * 8; ii < (id[0]+1)*8; ii++ {
			out[ii] = id[0] + 1
		}
	}))
	for ii, v := range out {
		assert.Equal(t, ii/8+1, v)
	}
}

func TestRunPropagatesPanics(t *testing.T) {
	spec := New(Axis{16, 4})
	err := spec.Run(func(id ID) {
		if id[0] == 2 {
			exceptions.Panicf("instance %d failed", id[0])
		}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instance 2 failed")

	err = spec.RunSequential(func(id ID) {
		if id[0] == 1 {
			exceptions.Panicf("boom")
		}
	})
	require.Error(t, err)
}

func TestRunSequentialOrder(t *testing.T) {
	spec := New(Axis{4, 2}, Axis{4, 2})
	var order []ID
	require.NoError(t, spec.RunSequential(func(id ID) {
		order = append(order, id)
	}))
	assert.Equal(t, []ID{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0}}, order)
}
