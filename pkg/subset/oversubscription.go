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

// Package subset implements the oversubscription policy arithmetic and the
// Subset/SubsetCollection data model that groups physical resources under a
// single oversubscription ratio.
package subset

import (
	"math"

	"github.com/jacquetpi/hostslack/pkg/domain"
)

// Account is the read-only view an Oversubscription policy needs of the
// Subset it scores. It is implemented by *CpuSubset/*MemSubset rather than
// the policy holding a back-reference to its owning Subset: the original
// keeps a subset->policy->subset cycle, which Go has no need to reproduce.
type Account interface {
	Capacity() int
	Allocation() int
	MaxConsumerAllocation() int
	VMAllocation(vm *domain.Entity) int
}

// Oversubscription carries the arithmetic of virtual-vs-physical capacity
// for a single ratio. It holds no subset reference; callers pass the
// Account to score on each call, keeping the policy object reusable and
// acyclic.
type Oversubscription struct {
	ratio float64
}

// NewOversubscription returns a static-ratio oversubscription policy. ratio
// must be positive.
func NewOversubscription(ratio float64) *Oversubscription {
	return &Oversubscription{ratio: ratio}
}

// ID returns the oversubscription ratio, which doubles as the
// SubsetCollection key for CPU subsets.
func (o *Oversubscription) ID() float64 { return o.ratio }

// Ratio returns the oversubscription ratio.
func (o *Oversubscription) Ratio() float64 { return o.ratio }

// Available returns the count of virtual resources still unused:
// capacity*ratio - allocation.
func (o *Oversubscription) Available(acc Account) float64 {
	return float64(acc.Capacity())*o.ratio - float64(acc.Allocation())
}

// UnusedPhysical returns the count of physical resources that are
// demonstrably unused: floor(available/ratio), clamped so shrinking can
// never reduce capacity below the largest single consumer's own
// allocation (no VM is left oversubscribed with itself).
func (o *Oversubscription) UnusedPhysical(acc Account) int {
	available := o.Available(acc)
	unused := int(math.Floor(available / o.ratio))

	capacity := acc.Capacity()
	used := capacity - unused
	maxAlloc := acc.MaxConsumerAllocation()
	if used < maxAlloc {
		clamped := int(math.Floor(float64(capacity - maxAlloc)))
		if clamped < 0 {
			return 0
		}
		return clamped
	}
	return unused
}

// AdditionalNeeded returns the number of additional physical resources
// required to place vm, 0 if none are needed.
func (o *Oversubscription) AdditionalNeeded(acc Account, vm *domain.Entity) int {
	request := acc.VMAllocation(vm)
	capacity := acc.Capacity()
	if capacity < request {
		return request - capacity // VM would be oversubscribed with itself
	}

	available := o.Available(acc)
	missingOversubscribed := float64(request) - available
	if missingOversubscribed <= 0 {
		return 0
	}
	return int(math.Ceil(missingOversubscribed / o.ratio))
}
