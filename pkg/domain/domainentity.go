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

// Package domain models the virtual machine as the scheduler sees it: a
// resource request plus the placement state that managers mutate as it is
// deployed, monitored, and eventually torn down.
package domain

import (
	"fmt"
	"sync"
)

// PinTemplate is the CPU pinning currently applied to a DomainEntity, a
// vcpu index to physical cpu_id mapping.
type PinTemplate map[int]int

// Entity is a VM's identity and resource request. uuid is only assigned
// once the hypervisor has created the domain; before that the second result
// of UUID is false and callers must match by Name instead, per has_vm's UUID-else-name rule.
type Entity struct {
	mu sync.RWMutex

	uuid    string
	hasUUID bool
	name    string

	cpu      int
	memMB    int
	cpuRatio float64

	cpuPin          PinTemplate
	deployed        bool
	beingDestroyed  bool
	customMetadata  map[string]string
}

// New builds a request-stage Entity: not yet created on the hypervisor, so
// it carries no UUID.
func New(name string, cpu, memMB int, cpuRatio float64) (*Entity, error) {
	if name == "" {
		return nil, fmt.Errorf("domain: name must not be empty")
	}
	if cpu <= 0 {
		return nil, fmt.Errorf("domain: cpu must be positive, got %d", cpu)
	}
	if memMB <= 0 {
		return nil, fmt.Errorf("domain: mem_mb must be positive, got %d", memMB)
	}
	if cpuRatio <= 0 {
		return nil, fmt.Errorf("domain: cpu_ratio must be positive, got %v", cpuRatio)
	}
	return &Entity{
		name:           name,
		cpu:            cpu,
		memMB:          memMB,
		cpuRatio:       cpuRatio,
		customMetadata: make(map[string]string),
	}, nil
}

// Name returns the VM's host-unique name.
func (e *Entity) Name() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.name
}

// UUID returns the hypervisor-assigned identifier and whether one has been
// assigned yet.
func (e *Entity) UUID() (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.uuid, e.hasUUID
}

// SetUUID assigns the stable identifier once the hypervisor has created the
// domain. Calling it twice with different values is a programming error;
// the second call is ignored once set, matching the "stable once assigned"
// contract.
func (e *Entity) SetUUID(uuid string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasUUID {
		return
	}
	e.uuid = uuid
	e.hasUUID = true
}

// Matches reports whether this Entity refers to the same VM as other, matching
// by UUID when both sides have one assigned and falling back to name
// otherwise.
func (e *Entity) Matches(other *Entity) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	if e.hasUUID && other.hasUUID {
		return e.uuid == other.uuid
	}
	return e.name == other.name
}

func (e *Entity) CPU() int            { return e.cpu }
func (e *Entity) MemMB() int          { return e.memMB }
func (e *Entity) CPURatio() float64   { return e.cpuRatio }

// CPUPin returns the vcpu-to-pcpu pinning currently applied, or nil if the
// VM has not been pinned.
func (e *Entity) CPUPin() PinTemplate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cpuPin
}

// SetCPUPin records the pinning template sync_pinning applied.
func (e *Entity) SetCPUPin(pin PinTemplate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cpuPin = pin
}

func (e *Entity) Deployed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.deployed
}

func (e *Entity) SetDeployed(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deployed = v
}

func (e *Entity) BeingDestroyed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.beingDestroyed
}

func (e *Entity) SetBeingDestroyed(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.beingDestroyed = v
}

// CustomMetadata returns the value stored under key, and whether it exists.
func (e *Entity) CustomMetadata(key string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.customMetadata[key]
	return v, ok
}

// SetCustomMetadata stores an opaque hypervisor-domain metadata value,
// round-tripped through hypervisor.Describe.
func (e *Entity) SetCustomMetadata(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.customMetadata[key] = value
}

// CPUAppropriateID is the SubsetCollection key this VM belongs to for the
// CPU resource: its oversubscription ratio.
func (e *Entity) CPUAppropriateID() float64 { return e.cpuRatio }

// MemAppropriateID is the SubsetCollection key this VM belongs to for the
// memory resource: the constant single bucket, since memory is not
// oversubscription-tiered (spec Non-goal: no per-NUMA memory placement).
func (e *Entity) MemAppropriateID() int { return 1 }

func (e *Entity) String() string {
	uuid, has := e.UUID()
	if !has {
		uuid = "<unassigned>"
	}
	return fmt.Sprintf("vm %s (uuid=%s cpu=%d mem_mb=%d ratio=%v)", e.name, uuid, e.cpu, e.memMB, e.cpuRatio)
}
