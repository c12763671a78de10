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

package hypervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/jacquetpi/hostslack/pkg/utils/cpuset"
)

// domainRecord is the noop backend's in-memory notion of a domain.
type domainRecord struct {
	desc Description
	pin  cpuset.CPUSet
	dead bool
}

// Noop is an in-memory Hypervisor implementation: no real VMs are created
// or destroyed, but the bookkeeping an integration test needs (create,
// describe, pin, delete, list) behaves consistently. Used when the daemon
// is run without a configured hypervisor backend, and by pkg/subset and
// pkg/submgr tests.
type Noop struct {
	mu      sync.Mutex
	domains map[string]*domainRecord
	nextID  int
}

// NewNoop returns an empty Noop hypervisor.
func NewNoop() *Noop {
	return &Noop{domains: make(map[string]*domainRecord)}
}

func (n *Noop) ListAlive(ctx context.Context) ([]Handle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var handles []Handle
	for uuid, d := range n.domains {
		if !d.dead {
			handles = append(handles, Handle{UUID: uuid, Name: d.desc.Name})
		}
	}
	return handles, nil
}

func (n *Noop) ListDefined(ctx context.Context) ([]Handle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	handles := make([]Handle, 0, len(n.domains))
	for uuid, d := range n.domains {
		handles = append(handles, Handle{UUID: uuid, Name: d.desc.Name})
	}
	return handles, nil
}

func (n *Noop) Describe(ctx context.Context, h Handle) (Description, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	d, ok := n.domains[h.UUID]
	if !ok || d.dead {
		return Description{}, fmt.Errorf("hypervisor: describe %s: %w", h.UUID, ErrConsumerNotAlive)
	}
	return d.desc, nil
}

func (n *Noop) Pin(ctx context.Context, uuid string, cpus cpuset.CPUSet) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	d, ok := n.domains[uuid]
	if !ok || d.dead {
		return fmt.Errorf("hypervisor: pin %s: %w", uuid, ErrConsumerNotAlive)
	}
	d.pin = cpus
	return nil
}

func (n *Noop) Create(ctx context.Context, spec Spec) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	uuid := fmt.Sprintf("noop-%d", n.nextID)
	n.domains[uuid] = &domainRecord{desc: Description{
		UUID:     uuid,
		Name:     spec.Name,
		MaxMemKB: spec.MemMB * 1024,
		MaxVCPUs: spec.VCPUs,
		CustomMetadata: map[string]string{
			"cpu_ratio": fmt.Sprintf("%v", spec.CPURatio),
		},
	}}
	return uuid, nil
}

func (n *Noop) Delete(ctx context.Context, uuid string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	d, ok := n.domains[uuid]
	if !ok {
		return fmt.Errorf("hypervisor: delete %s: %w", uuid, ErrConsumerNotAlive)
	}
	d.dead = true
	return nil
}

func (n *Noop) UsageCPU(ctx context.Context, uuid string) (float64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if d, ok := n.domains[uuid]; !ok || d.dead {
		return 0, fmt.Errorf("hypervisor: usage_cpu %s: %w", uuid, ErrConsumerNotAlive)
	}
	return 0, nil
}

func (n *Noop) UsageMem(ctx context.Context, uuid string) (float64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if d, ok := n.domains[uuid]; !ok || d.dead {
		return 0, fmt.Errorf("hypervisor: usage_mem %s: %w", uuid, ErrConsumerNotAlive)
	}
	return 0, nil
}

var _ Hypervisor = (*Noop)(nil)
