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

package sysfs

import (
	"testing"

	"github.com/jacquetpi/hostslack/pkg/utils/cpuset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildScenarioOneCpuSet reproduces an 8-CPU, 2-NUMA-node host: cpus 0-3 on
// node 0, 4-7 on node 1, SMT pairs (0,1)(2,3)(4,5)(6,7), L1/L2 scoped per SMT
// pair and L3 scoped per node, NUMA distance table [[10,20],[20,10]].
func buildScenarioOneCpuSet(t *testing.T) *CpuSet {
	t.Helper()

	pairOf := func(id int) int { return id / 2 }
	nodeOf := func(id int) int { return id / 4 }

	cpus := make([]*Cpu, 0, 8)
	for id := 0; id < 8; id++ {
		pairFirst := (id / 2) * 2
		sibSMT := cpuset.New(pairFirst, pairFirst+1)
		nodeFirst := (id / 4) * 4
		sibCPU := cpuset.New(nodeFirst, nodeFirst+1, nodeFirst+2, nodeFirst+3)
		levels := []int{pairOf(id), pairOf(id), nodeOf(id)}
		cpus = append(cpus, NewCpu(id, nodeOf(id), sibSMT, sibCPU, levels, 0))
	}

	numaDistances := map[int]map[int]int{
		0: {0: 10, 1: 20},
		1: {0: 20, 1: 10},
	}

	cs, err := NewCpuSet(cpus, numaDistances)
	require.NoError(t, err)
	return cs
}

func TestDistanceScenarioOne(t *testing.T) {
	cs := buildScenarioOneCpuSet(t)

	want := map[int]int{1: 10, 2: 30, 3: 30, 4: 70, 5: 70, 6: 70, 7: 70}
	for peer, d := range want {
		assert.Equal(t, d, cs.DistanceBetween(0, peer), "distance(0,%d)", peer)
	}

	neighbors := cs.Distances(0)
	require.Len(t, neighbors, 7)
	assert.Equal(t, Neighbor{CPU: 1, Distance: 10}, neighbors[0])
	assert.Equal(t, 30, neighbors[1].Distance)
	assert.Equal(t, 30, neighbors[2].Distance)
	assert.Equal(t, 2, neighbors[1].CPU)
	assert.Equal(t, 3, neighbors[2].CPU)
	for _, n := range neighbors[3:] {
		assert.Equal(t, 70, n.Distance)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	cs := buildScenarioOneCpuSet(t)
	for _, a := range cs.CPUs() {
		for _, b := range cs.CPUs() {
			if a.ID() == b.ID() {
				continue
			}
			assert.Equal(t, cs.DistanceBetween(a.ID(), b.ID()), cs.DistanceBetween(b.ID(), a.ID()))
		}
	}
}

func TestDistancesOrderedNonDecreasing(t *testing.T) {
	cs := buildScenarioOneCpuSet(t)
	for _, c := range cs.CPUs() {
		neighbors := cs.Distances(c.ID())
		for i := 1; i < len(neighbors); i++ {
			assert.LessOrEqual(t, neighbors[i-1].Distance, neighbors[i].Distance)
		}
	}
}

func TestDistanceMonotoneWithSharedCache(t *testing.T) {
	cs := buildScenarioOneCpuSet(t)
	for _, a := range cs.CPUs() {
		for _, b := range cs.CPUs() {
			if a.ID() == b.ID() {
				continue
			}
			sharesCache := false
			for l := 0; l < a.CacheLevels(); l++ {
				if a.CacheID(l) == b.CacheID(l) {
					sharesCache = true
					break
				}
			}
			crossNumaDistance := a.CacheLevels()*distStep + 2*distStep + cs.NumaDistance(a.NumaNode(), b.NumaNode())
			if sharesCache {
				assert.Less(t, cs.DistanceBetween(a.ID(), b.ID()), crossNumaDistance)
			}
		}
	}
}

func TestNewCpuSetRejectsDuplicateID(t *testing.T) {
	levels := []int{0, 0}
	a := NewCpu(0, 0, cpuset.New(), cpuset.New(), levels, 0)
	b := NewCpu(0, 0, cpuset.New(), cpuset.New(), levels, 0)
	_, err := NewCpuSet([]*Cpu{a, b}, map[int]map[int]int{0: {0: 10}})
	assert.Error(t, err)
}

func TestNewCpuSetRejectsHeterogeneousCacheLevels(t *testing.T) {
	a := NewCpu(0, 0, cpuset.New(), cpuset.New(), []int{0, 0}, 0)
	b := NewCpu(1, 0, cpuset.New(), cpuset.New(), []int{0}, 0)
	_, err := NewCpuSet([]*Cpu{a, b}, map[int]map[int]int{0: {0: 10}})
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cs := buildScenarioOneCpuSet(t)
	mem := NewMemSet(16000, 1000)

	path := dir + "/topology.json"
	require.NoError(t, WriteSnapshotFile(path, TakeSnapshot(cs, mem)))

	loadedCs, loadedMem, err := LoadSnapshotFile(path)
	require.NoError(t, err)

	require.Equal(t, cs.Len(), loadedCs.Len())
	for _, c := range cs.CPUs() {
		lc := loadedCs.CPU(c.ID())
		require.NotNil(t, lc)
		assert.Equal(t, c.NumaNode(), lc.NumaNode())
		assert.True(t, c.SibSMT().Equals(lc.SibSMT()))
		assert.True(t, c.SibCPU().Equals(lc.SibCPU()))
		assert.Equal(t, c.CacheLevels(), lc.CacheLevels())
	}
	for _, peer := range []int{1, 2, 3, 4, 5, 6, 7} {
		assert.Equal(t, cs.DistanceBetween(0, peer), loadedCs.DistanceBetween(0, peer))
	}
	assert.Equal(t, mem.TotalMB(), loadedMem.TotalMB())
	assert.Equal(t, mem.AllowedMB(), loadedMem.AllowedMB())
}
