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
	"time"

	"github.com/jacquetpi/hostslack/pkg/domain"
	"github.com/jacquetpi/hostslack/pkg/hypervisor"
	"github.com/jacquetpi/hostslack/pkg/sysfs"
	"github.com/jacquetpi/hostslack/pkg/telemetry"
	"github.com/jacquetpi/hostslack/pkg/utils/cpuset"

	logger "github.com/jacquetpi/hostslack/pkg/log"
)

var log = logger.NewLogger("subset")

// collaboratorTimeout bounds every hypervisor/telemetry call made while
// processing a tick, so a hung collaborator cannot block the scheduler.
const collaboratorTimeout = 2 * time.Second

// CpuSubset is a slice of physical CPUs placed under a single
// oversubscription ratio.
type CpuSubset struct {
	base

	resMu sync.Mutex
	cpus  map[int]*sysfs.Cpu
	order []int // insertion order, oldest first; shrink removes from the tail

	hv   hypervisor.Hypervisor
	pool telemetry.EndpointPool
}

// NewCpuSubset creates an empty CPU subset under the given oversubscription
// ratio.
func NewCpuSubset(ratio float64, hv hypervisor.Hypervisor, pool telemetry.EndpointPool) *CpuSubset {
	return &CpuSubset{
		base: newBase(ratio),
		cpus: make(map[int]*sysfs.Cpu),
		hv:   hv,
		pool: pool,
	}
}

func (s *CpuSubset) ResourceName() string { return "cpu" }

// VMAllocation is the vcpu count requested by vm, without oversubscription.
func (s *CpuSubset) VMAllocation(vm *domain.Entity) int { return vm.CPU() }

// Capacity is the number of physical CPUs currently in the subset.
func (s *CpuSubset) Capacity() int {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	return len(s.cpus)
}

func (s *CpuSubset) CountRes() int { return s.Capacity() }

func (s *CpuSubset) Allocation() int { return s.base.allocation(s.VMAllocation) }

func (s *CpuSubset) MaxConsumerAllocation() int { return s.base.maxConsumerAllocation(s.VMAllocation) }

func (s *CpuSubset) AdditionalNeeded(vm *domain.Entity) int {
	return s.oversub.AdditionalNeeded(s, vm)
}

func (s *CpuSubset) UnusedPhysical() int { return s.oversub.UnusedPhysical(s) }

func (s *CpuSubset) Empty() bool { return s.CountRes() == 0 && s.consumerCount() == 0 }

// AddCPU places a physical CPU into this subset. Rejects a CPU already
// present.
func (s *CpuSubset) AddCPU(c *sysfs.Cpu) error {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	if _, dup := s.cpus[c.ID()]; dup {
		return fmt.Errorf("subset: cpu %d already in subset", c.ID())
	}
	s.cpus[c.ID()] = c
	s.order = append(s.order, c.ID())
	return nil
}

// RemoveCPU removes a physical CPU from this subset by id.
func (s *CpuSubset) RemoveCPU(id int) error {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	if _, ok := s.cpus[id]; !ok {
		return fmt.Errorf("subset: cpu %d not in subset", id)
	}
	delete(s.cpus, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// InsertionOrder returns the subset's physical CPU ids in the order they
// were added, oldest first. Shrink removes from the tail (LIFO), which
// preserves the seed CPU chosen at subset creation.
func (s *CpuSubset) InsertionOrder() []int {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	return append([]int(nil), s.order...)
}

// CPUs returns the subset's physical CPUs, ordered by id.
func (s *CpuSubset) CPUs() []*sysfs.Cpu {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	list := make([]*sysfs.Cpu, 0, len(s.cpus))
	for _, c := range s.cpus {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

// CPUSet returns the subset's physical CPU ids as a CPUSet.
func (s *CpuSubset) CPUSet() cpuset.CPUSet {
	ids := make([]int, 0)
	for _, c := range s.CPUs() {
		ids = append(ids, c.ID())
	}
	return cpuset.New(ids...)
}

// Deploy places vm on this subset: checks virtual availability, records it
// as a consumer, re-pins every consumer to the current resource list, and
// clears each CPU's time sample (a usage delta spanning a resource-list
// change is meaningless).
func (s *CpuSubset) Deploy(vm *domain.Entity) (bool, error) {
	if err := checkAvailability(s, s.oversub, vm); err != nil {
		log.Warn("%v", err)
		return false, nil
	}
	if err := s.AddConsumer(vm); err != nil {
		return false, err
	}
	if err := s.syncPinning(context.Background()); err != nil {
		log.Warn("failed to sync pinning after deploying %s: %v", vm.Name(), err)
	}
	for _, c := range s.CPUs() {
		c.ClearSample()
	}
	return true, nil
}

// syncPinning re-derives every consumer's pinning template from the
// subset's current CPU set and pushes it to the hypervisor for consumers
// that are already deployed.
func (s *CpuSubset) syncPinning(ctx context.Context) error {
	cpus := s.CPUSet()
	template := make(domain.PinTemplate)
	vcpu := 0
	for _, id := range cpus.List() {
		template[vcpu] = id
		vcpu++
	}

	var firstErr error
	for _, consumer := range s.Consumers() {
		consumer.SetCPUPin(template)
		if !consumer.Deployed() || s.hv == nil {
			continue
		}
		uuid, has := consumer.UUID()
		if !has {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
		err := s.hv.Pin(callCtx, uuid, cpus)
		cancel()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Resync re-emits pinning for every consumer against the subset's current
// CPU set. Exported so a SubsetManager can re-align pinning after a shrink
// changes membership outside of Deploy.
func (s *CpuSubset) Resync(ctx context.Context) error {
	err := s.syncPinning(ctx)
	for _, c := range s.CPUs() {
		c.ClearSample()
	}
	return err
}

// CurrentResourcesUsage returns the mean usage fraction across this
// subset's physical CPUs, given the host-wide per-CPU usage map the
// CpuSubsetManager samples once per tick (via pkg/cpuexplorer) and distributes to every
// subset, so /proc/stat is read once per tick rather than once per subset.
func (s *CpuSubset) CurrentResourcesUsage(hostUsage map[int]float64) (float64, bool) {
	var sum float64
	n := 0
	for _, c := range s.CPUs() {
		if u, ok := hostUsage[c.ID()]; ok {
			sum += u
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// UpdateMonitoring samples consumer usage through the hypervisor, reports
// it via the telemetry pool, and drops any consumer the hypervisor reports
// as no longer alive despite the scheduler never having removed it
// (reconciliation never ran, or removal raced a VM disappearing
// out-of-band). Returns true if such cleanup happened.
func (s *CpuSubset) UpdateMonitoring(ctx context.Context, timestamp int64, subsetID string, hostUsage map[int]float64) (bool, error) {
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
		usage, err := s.hv.UsageCPU(callCtx, uuid)
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

	resourceUsage, _ := s.CurrentResourcesUsage(hostUsage)
	if s.pool != nil {
		sample := telemetry.SubsetSample{
			Timestamp:     timestamp,
			SubsetID:      subsetID,
			ResourceUsage: resourceUsage,
			ConsumerUsage: consumerUsage,
		}
		storeCtx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
		_ = s.pool.StoreSubset(storeCtx, sample) // best-effort
		cancel()
	}

	return cleanNeeded, nil
}

func (s *CpuSubset) String() string {
	names := make([]string, 0)
	for _, c := range s.Consumers() {
		names = append(names, c.Name())
	}
	return fmt.Sprintf("CpuSubset oc:%v alloc:%d capacity:%d res:%v vm:%v",
		s.OversubscriptionID(), s.Allocation(), s.Capacity(), s.CPUSet().String(), names)
}

var _ Subset = (*CpuSubset)(nil)
