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
	"sort"
	"sync"

	"github.com/jacquetpi/hostslack/pkg/domain"
)

// Collection is a keyed set of Subsets for one resource kind: the
// oversubscription ratio for CPU, the constant single bucket for memory.
type Collection struct {
	mu      sync.RWMutex
	subsets map[float64]Subset
}

// NewCollection returns an empty Collection.
func NewCollection() *Collection {
	return &Collection{subsets: make(map[float64]Subset)}
}

// Add inserts a subset under id. Rejects a duplicate id.
func (c *Collection) Add(id float64, s Subset) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.subsets[id]; dup {
		return fmt.Errorf("subset: collection already has id %v", id)
	}
	c.subsets[id] = s
	return nil
}

// Remove deletes the subset with the given id.
func (c *Collection) Remove(id float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subsets[id]; !ok {
		return fmt.Errorf("subset: collection has no id %v", id)
	}
	delete(c.subsets, id)
	return nil
}

// Get returns the subset with the given id, and whether it was present.
func (c *Collection) Get(id float64) (Subset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.subsets[id]
	return s, ok
}

// Contains reports whether id is present.
func (c *Collection) Contains(id float64) bool {
	_, ok := c.Get(id)
	return ok
}

// Count returns the number of subsets in the collection.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subsets)
}

// All returns the collection's subsets, ordered by id for deterministic
// iteration (tests, status reporting).
func (c *Collection) All() []Subset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]float64, 0, len(c.subsets))
	for id := range c.subsets {
		ids = append(ids, id)
	}
	sort.Float64s(ids)
	out := make([]Subset, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.subsets[id])
	}
	return out
}

// Capacity returns the summed capacity of every subset in the collection.
func (c *Collection) Capacity() int {
	total := 0
	for _, s := range c.All() {
		total += s.Capacity()
	}
	return total
}

// HasVM reports whether vm is a consumer of any subset in the collection.
func (c *Collection) HasVM(vm *domain.Entity) bool {
	for _, s := range c.All() {
		if s.HasVM(vm) {
			return true
		}
	}
	return false
}

// VMByName returns the first subset's consumer matching name, or nil.
func (c *Collection) VMByName(name string) *domain.Entity {
	for _, s := range c.All() {
		if vm := s.VMByName(name); vm != nil {
			return vm
		}
	}
	return nil
}

func (c *Collection) String() string {
	str := ""
	for _, s := range c.All() {
		str += fmt.Sprintf("|_> %v\n", s)
	}
	return str
}
