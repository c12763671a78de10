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

package subset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jacquetpi/hostslack/pkg/domain"
	"github.com/jacquetpi/hostslack/pkg/hypervisor"
	"github.com/jacquetpi/hostslack/pkg/telemetry"
)

// Range is a half-open memory interval [Lo, Hi) in MB.
type Range struct {
	Lo, Hi int64
}

func (r Range) size() int64 { return r.Hi - r.Lo }

// MemSubset is a set of disjoint memory ranges placed under a single
// oversubscription ratio. Memory is not NUMA-aware: it is a single
// contiguous pool divided into disjoint ranges (spec Non-goal).
type MemSubset struct {
	base

	resMu  sync.Mutex
	ranges []Range

	hv   hypervisor.Hypervisor
	pool telemetry.EndpointPool
}

// memSubsetRatio is the constant single-bucket id memory subsets are keyed
// by in their SubsetCollection (memory has no oversubscription tiers).
const memSubsetRatio = 1.0

// NewMemSubset creates an empty memory subset.
func NewMemSubset(hv hypervisor.Hypervisor, pool telemetry.EndpointPool) *MemSubset {
	return &MemSubset{base: newBase(memSubsetRatio), hv: hv, pool: pool}
}

func (s *MemSubset) ResourceName() string { return "mem" }

// VMAllocation is the MB requested by vm, without oversubscription.
func (s *MemSubset) VMAllocation(vm *domain.Entity) int { return vm.MemMB() }

// Capacity is the total MB covered by the subset's ranges.
func (s *MemSubset) Capacity() int {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	var total int64
	for _, r := range s.ranges {
		total += r.size()
	}
	return int(total)
}

func (s *MemSubset) CountRes() int {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	return len(s.ranges)
}

func (s *MemSubset) Allocation() int { return s.base.allocation(s.VMAllocation) }

func (s *MemSubset) MaxConsumerAllocation() int { return s.base.maxConsumerAllocation(s.VMAllocation) }

func (s *MemSubset) AdditionalNeeded(vm *domain.Entity) int {
	return s.oversub.AdditionalNeeded(s, vm)
}

func (s *MemSubset) UnusedPhysical() int { return s.oversub.UnusedPhysical(s) }

func (s *MemSubset) Empty() bool { return s.CountRes() == 0 && s.consumerCount() == 0 }

// Ranges returns the subset's memory ranges, ordered by lower bound.
func (s *MemSubset) Ranges() []Range {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	out := append([]Range(nil), s.ranges...)
	sort.Slice(out, func(i, j int) bool { return out[i].Lo < out[j].Lo })
	return out
}

// AddRange adds a memory range to the subset. Rejects a range overlapping
// any range already present.
func (s *MemSubset) AddRange(r Range) error {
	if r.Hi <= r.Lo {
		return fmt.Errorf("subset: invalid memory range (%d, %d)", r.Lo, r.Hi)
	}
	s.resMu.Lock()
	defer s.resMu.Unlock()
	for _, existing := range s.ranges {
		if r.Lo < existing.Hi && existing.Lo < r.Hi {
			return fmt.Errorf("subset: memory range (%d, %d) overlaps (%d, %d)", r.Lo, r.Hi, existing.Lo, existing.Hi)
		}
	}
	s.ranges = append(s.ranges, r)
	return nil
}

// RemoveRange removes the range matching r exactly.
func (s *MemSubset) RemoveRange(r Range) error {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	for i, existing := range s.ranges {
		if existing == r {
			s.ranges = append(s.ranges[:i], s.ranges[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("subset: memory range (%d, %d) not in subset", r.Lo, r.Hi)
}

// Deploy places vm on this subset. Unlike CPU, nothing beyond the
// availability check and consumer bookkeeping is required: the hypervisor
// receives the memory size at domain creation time, not via a pinning
// push.
func (s *MemSubset) Deploy(vm *domain.Entity) (bool, error) {
	if err := checkAvailability(s, s.oversub, vm); err != nil {
		log.Warn("%v", err)
		return false, nil
	}
	if err := s.AddConsumer(vm); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateMonitoring samples consumer memory usage through the hypervisor and
// reports it via the telemetry pool, dropping any consumer the hypervisor
// reports as no longer alive.
func (s *MemSubset) UpdateMonitoring(ctx context.Context, timestamp int64, subsetID string) (bool, error) {
	consumerUsage := make(map[string]float64)
	cleanNeeded := false

	for _, consumer := range s.Consumers() {
		if !consumer.Deployed() {
			continue
		}
		uuid, has := consumer.UUID()
		if !has || s.hv == nil {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
		usage, err := s.hv.UsageMem(callCtx, uuid)
		cancel()
		if err != nil {
			if errors.Is(err, hypervisor.ErrConsumerNotAlive) {
				log.Warn("vm %s left without passing by the scheduler", consumer.Name())
				if rmErr := s.RemoveConsumer(consumer); rmErr == nil {
					cleanNeeded = true
				}
			}
			continue
		}
		consumerUsage[uuid] = usage
	}

	if s.pool != nil {
		sample := telemetry.SubsetSample{
			Timestamp:     timestamp,
			SubsetID:      subsetID,
			ResourceUsage: 0,
			ConsumerUsage: consumerUsage,
		}
		storeCtx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
		_ = s.pool.StoreSubset(storeCtx, sample)
		cancel()
	}

	return cleanNeeded, nil
}

func (s *MemSubset) String() string {
	names := make([]string, 0)
	for _, c := range s.Consumers() {
		names = append(names, c.Name())
	}
	return fmt.Sprintf("MemSubset alloc:%d capacity:%d res:%v vm:%v", s.Allocation(), s.Capacity(), s.Ranges(), names)
}

var _ Subset = (*MemSubset)(nil)
