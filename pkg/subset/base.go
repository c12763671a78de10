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
	"fmt"
	"sync"

	"github.com/jacquetpi/hostslack/pkg/domain"
)

// Subset is the common surface CpuSubset and MemSubset both satisfy, used
// by SubsetCollection and the SubsetManagers.
type Subset interface {
	OversubscriptionID() float64
	ResourceName() string
	Capacity() int
	CountRes() int
	Allocation() int
	VMAllocation(vm *domain.Entity) int
	MaxConsumerAllocation() int
	AdditionalNeeded(vm *domain.Entity) int
	UnusedPhysical() int
	HasVM(vm *domain.Entity) bool
	VMByName(name string) *domain.Entity
	Consumers() []*domain.Entity
	AddConsumer(vm *domain.Entity) error
	RemoveConsumer(vm *domain.Entity) error
	Empty() bool
	Deploy(vm *domain.Entity) (bool, error)
}

// checkAvailability rejects vm if placing it would exceed the subset's
// virtual availability. Shared by every kind's Deploy before add_consumer.
func checkAvailability(acc Account, oversub *Oversubscription, vm *domain.Entity) error {
	available := oversub.Available(acc)
	if available < float64(acc.VMAllocation(vm)) {
		return fmt.Errorf("subset: not enough resources available to deploy %s (requested %d, available %.2f)",
			vm.Name(), acc.VMAllocation(vm), available)
	}
	return nil
}

// base holds the consumer bookkeeping and oversubscription policy shared by
// every resource-kind Subset. It is embedded, not used directly.
type base struct {
	mu        sync.Mutex
	oversub   *Oversubscription
	consumers []*domain.Entity
}

func newBase(ratio float64) base {
	return base{oversub: NewOversubscription(ratio)}
}

func (b *base) OversubscriptionID() float64 { return b.oversub.ID() }

// AddConsumer records vm as a consumer of this subset. Adding the same VM
// (by Matches) twice is rejected.
func (b *base) AddConsumer(vm *domain.Entity) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.consumers {
		if c.Matches(vm) {
			return fmt.Errorf("subset: cannot add %s twice", vm.Name())
		}
	}
	b.consumers = append(b.consumers, vm)
	return nil
}

// RemoveConsumer removes vm from the consumer list.
func (b *base) RemoveConsumer(vm *domain.Entity) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.consumers {
		if c.Matches(vm) {
			b.consumers = append(b.consumers[:i], b.consumers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("subset: %s is not a consumer", vm.Name())
}

// HasVM reports whether vm is a current consumer, matching by UUID when
// both sides have one assigned and falling back to name otherwise.
func (b *base) HasVM(vm *domain.Entity) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.consumers {
		if c.Matches(vm) {
			return true
		}
	}
	return false
}

// VMByName returns the consumer with the given name, or nil.
func (b *base) VMByName(name string) *domain.Entity {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.consumers {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// Consumers returns a snapshot of the current consumer list.
func (b *base) Consumers() []*domain.Entity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*domain.Entity(nil), b.consumers...)
}

// consumerCount returns the number of current consumers; each kind's Empty
// combines it with CountRes() == 0 to decide destruction.
func (b *base) consumerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.consumers)
}

func (b *base) allocation(vmAlloc func(*domain.Entity) int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, c := range b.consumers {
		total += vmAlloc(c)
	}
	return total
}

func (b *base) maxConsumerAllocation(vmAlloc func(*domain.Entity) int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	max := 0
	for _, c := range b.consumers {
		if a := vmAlloc(c); a > max {
			max = a
		}
	}
	return max
}
