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
	"context"
	"fmt"
	"sync"

	"github.com/jacquetpi/hostslack/pkg/cpuexplorer"
	"github.com/jacquetpi/hostslack/pkg/domain"
	"github.com/jacquetpi/hostslack/pkg/hypervisor"
	"github.com/jacquetpi/hostslack/pkg/subset"
	"github.com/jacquetpi/hostslack/pkg/sysfs"
	"github.com/jacquetpi/hostslack/pkg/telemetry"
)

// defaultDistanceMax is the cap on the distance a growth candidate may have
// to any one of a subset's current CPUs before it is excluded, per spec §4.5.
const defaultDistanceMax = 50

// CpuSubsetManager maintains a SubsetCollection of CpuSubsets keyed by
// oversubscription ratio, implementing the proximity-aware growth
// algorithm: farthest-first at creation, closest-first on growth.
type CpuSubsetManager struct {
	mu          sync.Mutex
	cpuset      *sysfs.CpuSet
	collection  *subset.Collection
	hv          hypervisor.Hypervisor
	pool        telemetry.EndpointPool
	explorer    *cpuexplorer.Explorer
	distanceMax int
}

// NewCpuSubsetManager builds an empty manager over the given host CPU
// topology. distanceMax <= 0 falls back to a default of 50.
func NewCpuSubsetManager(cs *sysfs.CpuSet, procRoot string, hv hypervisor.Hypervisor, pool telemetry.EndpointPool, distanceMax int) *CpuSubsetManager {
	if distanceMax <= 0 {
		distanceMax = defaultDistanceMax
	}
	return &CpuSubsetManager{
		cpuset:      cs,
		collection:  subset.NewCollection(),
		hv:          hv,
		pool:        pool,
		explorer:    cpuexplorer.New(procRoot),
		distanceMax: distanceMax,
	}
}

func (m *CpuSubsetManager) ResourceName() string { return "cpu" }

// Capacity is the host's total physical CPU count.
func (m *CpuSubsetManager) Capacity() int { return m.cpuset.Len() }

func (m *CpuSubsetManager) HasVM(vm *domain.Entity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collection.HasVM(vm)
}

func (m *CpuSubsetManager) VMByName(name string) *domain.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collection.VMByName(name)
}

// Deploy places vm on the subset matching its oversubscription ratio,
// growing it first if needed, or creates a new subset if none exists yet.
func (m *CpuSubsetManager) Deploy(vm *domain.Entity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := vm.CPUAppropriateID()
	if existing, ok := m.collection.Get(id); ok {
		return m.deployOnExisting(existing.(*subset.CpuSubset), vm)
	}
	return m.deployOnNew(id, vm)
}

func (m *CpuSubsetManager) deployOnExisting(cs *subset.CpuSubset, vm *domain.Entity) (bool, error) {
	k := cs.AdditionalNeeded(vm)
	if k <= 0 {
		return cs.Deploy(vm)
	}
	grown, err := m.tryExtendSubset(cs, k)
	if err != nil || !grown {
		return false, err
	}
	return cs.Deploy(vm)
}

func (m *CpuSubsetManager) deployOnNew(id float64, vm *domain.Entity) (bool, error) {
	cs, err := m.tryCreateSubset(vm.CPU(), id)
	if err != nil || cs == nil {
		return false, err
	}
	if err := m.collection.Add(id, cs); err != nil {
		return false, err
	}
	return cs.Deploy(vm)
}

// Remove drops vm from its subset and shrinks it if now oversized.
func (m *CpuSubsetManager) Remove(vm *domain.Entity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := vm.CPUAppropriateID()
	s, ok := m.collection.Get(id)
	if !ok {
		return false, nil
	}
	if err := s.RemoveConsumer(vm); err != nil {
		return false, nil
	}
	cs := s.(*subset.CpuSubset)
	if err := m.shrinkSubset(cs); err != nil {
		log.Warn("failed to shrink cpu subset %v after removing %s: %v", cs.OversubscriptionID(), vm.Name(), err)
	}
	return true, nil
}

// tryCreateSubset creates a Subset of the given raw capacity (no
// oversubscription applied, so the resulting physical capacity is never
// less than requested) by seeding it with the farthest-available CPU and
// filling the rest with the closest-available ones.
func (m *CpuSubsetManager) tryCreateSubset(capacity int, ratio float64) (*subset.CpuSubset, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("submgr: cannot create cpu subset with non-positive capacity %d", capacity)
	}
	farthest := m.farthestAvailable()
	if len(farthest) < capacity {
		return nil, nil
	}

	cs := subset.NewCpuSubset(ratio, m.hv, m.pool)
	if err := cs.AddCPU(farthest[0]); err != nil {
		return nil, err
	}

	remaining := capacity - 1
	if remaining > 0 {
		closest := m.closestAvailable(cs)
		if len(closest) < remaining {
			return nil, nil
		}
		for i := 0; i < remaining; i++ {
			if err := cs.AddCPU(closest[i]); err != nil {
				return nil, err
			}
		}
	}
	return cs, nil
}

// tryExtendSubset grows cs by amount CPUs picked closest-first. Fails (no
// error, ok=false) if fewer than amount candidates survive the
// distance_max filter.
func (m *CpuSubsetManager) tryExtendSubset(cs *subset.CpuSubset, amount int) (bool, error) {
	closest := m.closestAvailable(cs)
	if len(closest) < amount {
		return false, nil
	}
	for i := 0; i < amount; i++ {
		if err := cs.AddCPU(closest[i]); err != nil {
			return false, err
		}
	}
	return true, nil
}

// shrinkSubset removes unused_physical CPUs in LIFO insertion order (so the
// seed CPU is the last to go), re-syncs pinning, and drops the subset from
// the collection if it ends up with neither resources nor consumers.
func (m *CpuSubsetManager) shrinkSubset(cs *subset.CpuSubset) error {
	unused := cs.UnusedPhysical()
	order := cs.InsertionOrder()
	for i := 0; i < unused && len(order) > 0; i++ {
		id := order[len(order)-1]
		order = order[:len(order)-1]
		if err := cs.RemoveCPU(id); err != nil {
			return err
		}
	}
	if err := cs.Resync(context.Background()); err != nil {
		log.Warn("failed to resync pinning after shrink: %v", err)
	}
	if cs.Empty() {
		_ = m.collection.Remove(cs.OversubscriptionID())
	}
	return nil
}

// ShrinkIdle shrinks every subset currently oversized for its allocation.
func (m *CpuSubsetManager) ShrinkIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.collection.All() {
		if err := m.shrinkSubset(s.(*subset.CpuSubset)); err != nil {
			log.Warn("shrink failed for cpu subset %v: %v", s.OversubscriptionID(), err)
		}
	}
}

// UpdateMonitoring samples per-CPU host usage once (rather than once per
// subset), distributes it to every subset, and shrinks any subset that
// ends up cleaning a dead consumer.
func (m *CpuSubsetManager) UpdateMonitoring(ctx context.Context, timestamp int64) (bool, error) {
	hostUsage, err := m.explorer.Sample(m.cpuset)
	if err != nil {
		log.Warn("cpu usage sampling failed: %v", err)
		hostUsage = map[int]float64{}
	}

	m.mu.Lock()
	subsets := m.collection.All()
	m.mu.Unlock()

	anyCleaned := false
	for _, s := range subsets {
		cs := s.(*subset.CpuSubset)
		subsetID := fmt.Sprintf("cpu-%v", cs.OversubscriptionID())
		cleaned, err := cs.UpdateMonitoring(ctx, timestamp, subsetID, hostUsage)
		if err != nil {
			log.Warn("monitoring failed for cpu subset %v: %v", cs.OversubscriptionID(), err)
			continue
		}
		if cleaned {
			anyCleaned = true
			m.mu.Lock()
			if err := m.shrinkSubset(cs); err != nil {
				log.Warn("shrink failed for cpu subset %v: %v", cs.OversubscriptionID(), err)
			}
			m.mu.Unlock()
		}
	}

	if global, ok := cpuexplorer.Global(hostUsage); ok && m.pool != nil {
		storeCtx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
		_ = m.pool.StoreGlobal(storeCtx, telemetry.GlobalSample{Timestamp: timestamp, ManagerID: "cpu", Usage: global})
		cancel()
	}

	return anyCleaned, nil
}

// allocatedCPUIDs is the union of physical CPUs already owned by any
// subset this manager tracks.
func (m *CpuSubsetManager) allocatedCPUIDs() map[int]bool {
	allocated := make(map[int]bool)
	for _, s := range m.collection.All() {
		for _, c := range s.(*subset.CpuSubset).CPUs() {
			allocated[c.ID()] = true
		}
	}
	return allocated
}

func (m *CpuSubsetManager) availableCPUs() []*sysfs.Cpu {
	allocated := m.allocatedCPUIDs()
	available := make([]*sysfs.Cpu, 0, m.cpuset.Len())
	for _, c := range m.cpuset.CPUs() {
		if !allocated[c.ID()] {
			available = append(available, c)
		}
	}
	return available
}

// candidateWeights computes, for each CPU in candidates, its average
// distance to every CPU in reference. A candidate already present in
// reference is excluded entirely (self-distance is undefined). When
// excludeMax is set, a candidate with any single distance to a reference
// CPU beyond distanceMax is excluded entirely rather than merely
// penalized, capping how far a single subset may spread during growth.
func (m *CpuSubsetManager) candidateWeights(candidates, reference []*sysfs.Cpu, excludeMax bool) map[int]float64 {
	weights := make(map[int]float64, len(candidates))
candidateLoop:
	for _, cand := range candidates {
		var total, count int
		for _, ref := range reference {
			if ref.ID() == cand.ID() {
				continue candidateLoop
			}
			d := m.cpuset.DistanceBetween(ref.ID(), cand.ID())
			if excludeMax && d > m.distanceMax {
				continue candidateLoop
			}
			total += d
			count++
		}
		if count == 0 {
			weights[cand.ID()] = 0
		} else {
			weights[cand.ID()] = float64(total) / float64(count)
		}
	}
	return weights
}

// farthestAvailable orders every unallocated CPU by decreasing average
// distance to every already-allocated CPU (across all subsets this manager
// tracks), used to pick a new subset's isolated seed.
func (m *CpuSubsetManager) farthestAvailable() []*sysfs.Cpu {
	available := m.availableCPUs()
	allocated := make([]*sysfs.Cpu, 0)
	for id := range m.allocatedCPUIDs() {
		allocated = append(allocated, m.cpuset.CPU(id))
	}
	weights := m.candidateWeights(available, allocated, false)
	return m.cpusByID(weighted(weights, true))
}

// closestAvailable orders every unallocated CPU by increasing average
// distance to cs's own current CPUs, excluding any candidate whose
// distance to any of them exceeds distanceMax, used for growth.
func (m *CpuSubsetManager) closestAvailable(cs *subset.CpuSubset) []*sysfs.Cpu {
	available := m.availableCPUs()
	weights := m.candidateWeights(available, cs.CPUs(), true)
	return m.cpusByID(weighted(weights, false))
}

func (m *CpuSubsetManager) cpusByID(ids []int) []*sysfs.Cpu {
	out := make([]*sysfs.Cpu, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.cpuset.CPU(id))
	}
	return out
}

// Subsets returns a snapshot of the manager's current subsets, for metrics
// collection.
func (m *CpuSubsetManager) Subsets() []subset.Subset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collection.All()
}

func (m *CpuSubsetManager) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("CpuSubsetManager:\n%v", m.collection)
}
