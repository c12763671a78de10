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
	"sort"

	"github.com/jacquetpi/hostslack/pkg/utils/cpuset"
)

// distStep is the per-tier increment used by the distance metric.
const distStep = 10

// Neighbor is one entry of a Cpu's ordered distance row.
type Neighbor struct {
	CPU      int
	Distance int
}

// CpuSet is the immutable-after-build host CPU topology model.
type CpuSet struct {
	cpus          []*Cpu // ordered by cpu_id, insertion order preserved
	byID          map[int]*Cpu
	numaDistances map[int]map[int]int
	distances     map[int][]Neighbor // ordered ascending by distance, tie-broken by cpu_id
}

// NewCpuSet builds the immutable CpuSet from the given CPUs (ordered by
// cpu_id by the caller) and NUMA distance table, computing the full
// pairwise distance mapping exactly once.
//
// Heterogeneous cache-level counts across CPUs are rejected.
func NewCpuSet(cpus []*Cpu, numaDistances map[int]map[int]int) (*CpuSet, error) {
	cs := &CpuSet{
		cpus:          append([]*Cpu(nil), cpus...),
		byID:          make(map[int]*Cpu, len(cpus)),
		numaDistances: numaDistances,
		distances:     make(map[int][]Neighbor, len(cpus)),
	}
	sort.Slice(cs.cpus, func(i, j int) bool { return cs.cpus[i].id < cs.cpus[j].id })

	var levels = -1
	for _, c := range cs.cpus {
		if _, dup := cs.byID[c.id]; dup {
			return nil, sysfsError("cpuset", "duplicate cpu id %d", c.id)
		}
		cs.byID[c.id] = c
		if levels == -1 {
			levels = c.CacheLevels()
		} else if c.CacheLevels() != levels {
			return nil, sysfsError("cpuset", "heterogeneous cache level count: cpu %d has %d, expected %d",
				c.id, c.CacheLevels(), levels)
		}
	}

	cs.buildDistances()
	return cs, nil
}

// buildDistances materializes the full pairwise distance mapping. It is the
// only place the distance metric is evaluated: each unordered pair is scored
// once and written symmetrically, which enforces symmetry by construction
// rather than by re-evaluating the metric in both directions.
func (cs *CpuSet) buildDistances() {
	raw := make(map[int]map[int]int, len(cs.cpus))
	for _, c := range cs.cpus {
		raw[c.id] = make(map[int]int, len(cs.cpus)-1)
	}

	for i, a := range cs.cpus {
		for _, b := range cs.cpus[i+1:] {
			d := distance(a, b, cs.numaDistances)
			raw[a.id][b.id] = d
			raw[b.id][a.id] = d
		}
	}

	for id, row := range raw {
		neighbors := make([]Neighbor, 0, len(row))
		for peer, d := range row {
			neighbors = append(neighbors, Neighbor{CPU: peer, Distance: d})
		}
		sort.Slice(neighbors, func(i, j int) bool {
			if neighbors[i].Distance != neighbors[j].Distance {
				return neighbors[i].Distance < neighbors[j].Distance
			}
			return neighbors[i].CPU < neighbors[j].CPU
		})
		cs.distances[id] = neighbors
	}
}

// distance computes the locality distance between two distinct CPUs,
// monotonically from tightest to loosest locality: shared cache (innermost
// to outermost), then SMT sibling, then socket sibling, then cross-NUMA
// distance. SMT and socket sibling are two distinct steps even though an
// SMT sibling is always also a socket sibling, matching the reference
// distance metric.
func distance(a, b *Cpu, numaDistances map[int]map[int]int) int {
	d := 0
	for level := 0; level < a.CacheLevels(); level++ {
		d += distStep
		if a.CacheID(level) == b.CacheID(level) {
			return d
		}
	}

	d += distStep
	if containsID(a.sibSMT, b.id) {
		return d
	}

	d += distStep
	if containsID(a.sibCPU, b.id) {
		return d
	}

	return d + numaDistances[a.numaNode][b.numaNode]
}

func containsID(s cpuset.CPUSet, id int) bool {
	for _, m := range s.List() {
		if m == id {
			return true
		}
	}
	return false
}

// CPUs returns the ordered CPU list.
func (cs *CpuSet) CPUs() []*Cpu { return cs.cpus }

// CPU returns the Cpu with the given id, or nil if absent.
func (cs *CpuSet) CPU(id int) *Cpu { return cs.byID[id] }

// Len returns the number of CPUs in the set.
func (cs *CpuSet) Len() int { return len(cs.cpus) }

// Distances returns the ordered neighbor list for the given CPU id. A CPU's
// distance to itself is undefined and is never present in this list.
func (cs *CpuSet) Distances(id int) []Neighbor { return cs.distances[id] }

// DistanceBetween returns the precomputed distance between two distinct
// CPUs. Querying a CPU's distance to itself is a programming error; it
// returns 0 defensively rather than panicking.
func (cs *CpuSet) DistanceBetween(a, b int) int {
	if a == b {
		return 0
	}
	for _, n := range cs.distances[a] {
		if n.CPU == b {
			return n.Distance
		}
	}
	return 0
}

// NumaDistance returns the NUMA distance between two node ids.
func (cs *CpuSet) NumaDistance(a, b int) int {
	return cs.numaDistances[a][b]
}
