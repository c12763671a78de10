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

	"github.com/jacquetpi/hostslack/pkg/domain"
	"github.com/jacquetpi/hostslack/pkg/hypervisor"
	"github.com/jacquetpi/hostslack/pkg/subset"
	"github.com/jacquetpi/hostslack/pkg/sysfs"
	"github.com/jacquetpi/hostslack/pkg/telemetry"
)

// MemSubsetManager manages a SubsetCollection of MemSubsets. Memory's
// oversubscription ratio is fixed at 1, so in practice this manages a
// single subset: one contiguous range out of the host's allowed pool.
type MemSubsetManager struct {
	mu         sync.Mutex
	memset     *sysfs.MemSet
	collection *subset.Collection
	hv         hypervisor.Hypervisor
	pool       telemetry.EndpointPool
}

// NewMemSubsetManager builds an empty manager over the host's memory pool.
func NewMemSubsetManager(ms *sysfs.MemSet, hv hypervisor.Hypervisor, pool telemetry.EndpointPool) *MemSubsetManager {
	return &MemSubsetManager{
		memset:     ms,
		collection: subset.NewCollection(),
		hv:         hv,
		pool:       pool,
	}
}

func (m *MemSubsetManager) ResourceName() string { return "mem" }

// Capacity is the host's allowed memory pool size in MB.
func (m *MemSubsetManager) Capacity() int { return int(m.memset.AllowedMB()) }

func (m *MemSubsetManager) HasVM(vm *domain.Entity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collection.HasVM(vm)
}

func (m *MemSubsetManager) VMByName(name string) *domain.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collection.VMByName(name)
}

// Deploy places vm on the (constant-id) memory subset, growing it first if
// needed, or creates it if this is the first VM deployed.
func (m *MemSubsetManager) Deploy(vm *domain.Entity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := float64(vm.MemAppropriateID())
	if existing, ok := m.collection.Get(id); ok {
		return m.deployOnExisting(existing.(*subset.MemSubset), vm)
	}
	return m.deployOnNew(id, vm)
}

func (m *MemSubsetManager) deployOnExisting(ms *subset.MemSubset, vm *domain.Entity) (bool, error) {
	k := ms.AdditionalNeeded(vm)
	if k <= 0 {
		return ms.Deploy(vm)
	}
	grown, err := m.tryExtendSubset(ms, int64(k))
	if err != nil || !grown {
		return false, err
	}
	return ms.Deploy(vm)
}

func (m *MemSubsetManager) deployOnNew(id float64, vm *domain.Entity) (bool, error) {
	ms, err := m.tryCreateSubset(int64(vm.MemMB()))
	if err != nil || ms == nil {
		return false, err
	}
	if err := m.collection.Add(id, ms); err != nil {
		return false, err
	}
	return ms.Deploy(vm)
}

// Remove drops vm from its subset and shrinks it if now oversized.
func (m *MemSubsetManager) Remove(vm *domain.Entity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := float64(vm.MemAppropriateID())
	s, ok := m.collection.Get(id)
	if !ok {
		return false, nil
	}
	if err := s.RemoveConsumer(vm); err != nil {
		return false, nil
	}
	ms := s.(*subset.MemSubset)
	if err := m.shrinkSubset(ms); err != nil {
		log.Warn("failed to shrink mem subset after removing %s: %v", vm.Name(), err)
	}
	return true, nil
}

// tryCreateSubset proposes the range [lo, lo+capacity) immediately after
// the highest upper bound among existing ranges (0 if none), rejecting it
// if it would exceed the host's allowed pool.
func (m *MemSubsetManager) tryCreateSubset(capacity int64) (*subset.MemSubset, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("submgr: cannot create mem subset with non-positive capacity %d", capacity)
	}
	var lo int64
	for _, s := range m.collection.All() {
		for _, r := range s.(*subset.MemSubset).Ranges() {
			if r.Hi > lo {
				lo = r.Hi
			}
		}
	}
	hi := lo + capacity
	if hi > m.memset.AllowedMB() {
		return nil, nil
	}
	ms := subset.NewMemSubset(m.hv, m.pool)
	if err := ms.AddRange(subset.Range{Lo: lo, Hi: hi}); err != nil {
		return nil, err
	}
	return ms, nil
}

// tryExtendSubset extends ms's single range's upper bound by amount,
// rejecting the extension if it would exceed the host pool or overlap
// another subset's range.
func (m *MemSubsetManager) tryExtendSubset(ms *subset.MemSubset, amount int64) (bool, error) {
	ranges := ms.Ranges()
	if len(ranges) != 1 {
		return false, fmt.Errorf("submgr: mem subset expected exactly one range, got %d", len(ranges))
	}
	r := ranges[0]
	newHi := r.Hi + amount
	if newHi > m.memset.AllowedMB() {
		return false, nil
	}
	for _, s := range m.collection.All() {
		other := s.(*subset.MemSubset)
		if other == ms {
			continue
		}
		for _, or := range other.Ranges() {
			if overlaps(r.Lo, newHi, or.Lo, or.Hi) {
				return false, nil
			}
		}
	}
	if err := ms.RemoveRange(r); err != nil {
		return false, err
	}
	if err := ms.AddRange(subset.Range{Lo: r.Lo, Hi: newHi}); err != nil {
		_ = ms.AddRange(r) // best-effort rollback
		return false, err
	}
	return true, nil
}

func overlaps(lo1, hi1, lo2, hi2 int64) bool {
	return lo1 < hi2 && lo2 < hi1
}

// shrinkSubset reduces ms's range by unused_physical MB, dropping it from
// the collection if it reaches empty.
func (m *MemSubsetManager) shrinkSubset(ms *subset.MemSubset) error {
	unused := int64(ms.UnusedPhysical())
	if unused > 0 {
		ranges := ms.Ranges()
		if len(ranges) != 1 {
			return fmt.Errorf("submgr: mem subset expected exactly one range, got %d", len(ranges))
		}
		r := ranges[0]
		if err := ms.RemoveRange(r); err != nil {
			return err
		}
		if newHi := r.Hi - unused; newHi > r.Lo {
			if err := ms.AddRange(subset.Range{Lo: r.Lo, Hi: newHi}); err != nil {
				return err
			}
		}
	}
	if ms.Empty() {
		_ = m.collection.Remove(ms.OversubscriptionID())
	}
	return nil
}

// ShrinkIdle shrinks every subset currently oversized for its allocation.
func (m *MemSubsetManager) ShrinkIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.collection.All() {
		if err := m.shrinkSubset(s.(*subset.MemSubset)); err != nil {
			log.Warn("shrink failed for mem subset: %v", err)
		}
	}
}

// UpdateMonitoring samples consumer memory usage for every subset this
// manager tracks, shrinking any that ends up cleaning a dead consumer.
func (m *MemSubsetManager) UpdateMonitoring(ctx context.Context, timestamp int64) (bool, error) {
	m.mu.Lock()
	subsets := m.collection.All()
	m.mu.Unlock()

	anyCleaned := false
	for _, s := range subsets {
		ms := s.(*subset.MemSubset)
		subsetID := fmt.Sprintf("mem-%v", ms.OversubscriptionID())
		cleaned, err := ms.UpdateMonitoring(ctx, timestamp, subsetID)
		if err != nil {
			log.Warn("monitoring failed for mem subset: %v", err)
			continue
		}
		if cleaned {
			anyCleaned = true
			m.mu.Lock()
			if err := m.shrinkSubset(ms); err != nil {
				log.Warn("shrink failed for mem subset: %v", err)
			}
			m.mu.Unlock()
		}
	}
	return anyCleaned, nil
}

// Subsets returns a snapshot of the manager's current subsets, for metrics
// collection.
func (m *MemSubsetManager) Subsets() []subset.Subset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collection.All()
}

func (m *MemSubsetManager) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("MemSubsetManager:\n%v", m.collection)
}
