// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package submgr

import (
	"testing"

	"github.com/jacquetpi/hostslack/pkg/domain"
	"github.com/jacquetpi/hostslack/pkg/subset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCpuSubsetManagerCreatesSubsetOnFirstDeploy(t *testing.T) {
	cs := buildTestCpuSet(t, 8)
	m := NewCpuSubsetManager(cs, t.TempDir(), nil, nil, 0)

	vm, err := domain.New("vm1", 2, 1024, 1.0)
	require.NoError(t, err)
	ok, err := m.Deploy(vm)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, m.HasVM(vm))
}

func TestCpuSubsetManagerGrowsExistingSubsetUpToDistanceMax(t *testing.T) {
	cs := buildTestCpuSet(t, 8)
	m := NewCpuSubsetManager(cs, t.TempDir(), nil, nil, 0) // default distance_max=50

	vm1, err := domain.New("vm1", 2, 1024, 1.0)
	require.NoError(t, err)
	ok, err := m.Deploy(vm1)
	require.NoError(t, err)
	require.True(t, ok)

	// Ratio 1 leaves no oversubscription slack, forcing growth for vm2.
	vm2, err := domain.New("vm2", 2, 1024, 1.0)
	require.NoError(t, err)
	ok, err = m.Deploy(vm2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, m.HasVM(vm2))
}

func TestCpuSubsetManagerDeployFailsWhenHostTooSmall(t *testing.T) {
	cs := buildTestCpuSet(t, 4)
	m := NewCpuSubsetManager(cs, t.TempDir(), nil, nil, 0)

	vm, err := domain.New("vm", 8, 1024, 1.0)
	require.NoError(t, err)
	ok, err := m.Deploy(vm)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, m.HasVM(vm))
}

func TestCpuSubsetManagerRemoveDropsVM(t *testing.T) {
	cs := buildTestCpuSet(t, 8)
	m := NewCpuSubsetManager(cs, t.TempDir(), nil, nil, 0)

	vm, err := domain.New("vm", 2, 1024, 1.0)
	require.NoError(t, err)
	ok, err := m.Deploy(vm)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Remove(vm)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, m.HasVM(vm))
}

func TestCpuSubsetManagerFarthestFirstIsolatesNewSubsets(t *testing.T) {
	cs := buildTestCpuSet(t, 8)
	m := NewCpuSubsetManager(cs, t.TempDir(), nil, nil, 0)

	// First subset at ratio 1 takes a single seed CPU.
	vmA, err := domain.New("vmA", 1, 1024, 1.0)
	require.NoError(t, err)
	ok, err := m.Deploy(vmA)
	require.NoError(t, err)
	require.True(t, ok)

	// A different ratio is a different subset: farthest-first should seed
	// it away from vmA's CPU rather than reusing nearby ones.
	vmB, err := domain.New("vmB", 1, 1024, 2.0)
	require.NoError(t, err)
	ok, err = m.Deploy(vmB)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, m.HasVM(vmB))

	sA, ok := m.collection.Get(1.0)
	require.True(t, ok)
	sB, ok := m.collection.Get(2.0)
	require.True(t, ok)
	nodeA := sA.(*subset.CpuSubset).CPUs()[0].NumaNode()
	nodeB := sB.(*subset.CpuSubset).CPUs()[0].NumaNode()
	assert.NotEqual(t, nodeA, nodeB, "second subset should be seeded on the other NUMA node")
}
