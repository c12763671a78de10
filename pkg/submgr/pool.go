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
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jacquetpi/hostslack/pkg/domain"
	"github.com/jacquetpi/hostslack/pkg/hypervisor"
)

// cpuRatioMetadataKey is the hypervisor custom-metadata key carrying a
// domain's CPU oversubscription ratio, round-tripped through Describe/
// Create per spec.md §6.
const cpuRatioMetadataKey = "cpu_ratio"

// Pool coordinates the fixed set of per-resource SubsetManagers (cpu, mem)
// atomically, and drives the scheduler's tick loop.
type Pool struct {
	mu         sync.Mutex
	managers   []resourceManager
	hv         hypervisor.Hypervisor
	prevStatus string
}

// NewPool builds a Pool over the given cpu and mem managers.
func NewPool(cpu *CpuSubsetManager, mem *MemSubsetManager, hv hypervisor.Hypervisor) *Pool {
	return &Pool{managers: []resourceManager{cpu, mem}, hv: hv}
}

// Deploy places vm on every resource manager in a fixed order, rolling back
// whatever already succeeded if any manager fails or the subsequent
// hypervisor create call fails. If vm has no UUID yet, a successful
// placement is followed by hypervisor.Create, which assigns one.
func (p *Pool) Deploy(ctx context.Context, vm *domain.Entity) (bool, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	treated := make([]resourceManager, 0, len(p.managers))
	for _, m := range p.managers {
		ok, err := m.Deploy(vm)
		if err != nil {
			p.rollback(treated, vm)
			return false, "", fmt.Errorf("submgr: %s manager failed to deploy %s: %w", m.ResourceName(), vm.Name(), err)
		}
		if !ok {
			p.rollback(treated, vm)
			return false, fmt.Sprintf("not enough %s resources for %s", m.ResourceName(), vm.Name()), nil
		}
		treated = append(treated, m)
	}

	if _, has := vm.UUID(); !has {
		spec := hypervisor.Spec{Name: vm.Name(), MemMB: int64(vm.MemMB()), VCPUs: vm.CPU(), CPURatio: vm.CPURatio()}
		callCtx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
		uuid, err := p.hv.Create(callCtx, spec)
		cancel()
		if err != nil {
			p.rollback(treated, vm)
			return false, "", fmt.Errorf("submgr: hypervisor create failed for %s: %w", vm.Name(), err)
		}
		vm.SetUUID(uuid)
		vm.SetCustomMetadata(cpuRatioMetadataKey, strconv.FormatFloat(vm.CPURatio(), 'g', -1, 64))
		vm.SetDeployed(true)
	}
	return true, "", nil
}

func (p *Pool) rollback(treated []resourceManager, vm *domain.Entity) {
	for _, m := range treated {
		if _, err := m.Remove(vm); err != nil {
			log.Warn("rollback: failed to remove %s from %s manager: %v", vm.Name(), m.ResourceName(), err)
		}
	}
}

// Remove drops vm from every manager, then invokes hypervisor delete. A
// mid-sequence failure across managers is a programming-level
// inconsistency and is returned as an error rather than silently tolerated,
// per spec.md §4.7.
func (p *Pool) Remove(ctx context.Context, vm *domain.Entity) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	vm.SetBeingDestroyed(true)
	treated := make([]resourceManager, 0, len(p.managers))
	for _, m := range p.managers {
		ok, err := m.Remove(vm)
		if err != nil {
			return false, err
		}
		if !ok {
			if len(treated) > 0 {
				return false, fmt.Errorf("submgr: %s unequally present across managers", vm.Name())
			}
			vm.SetBeingDestroyed(false)
			return false, nil
		}
		treated = append(treated, m)
	}

	uuid, has := vm.UUID()
	if !has {
		return true, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
	err := p.hv.Delete(callCtx, uuid)
	cancel()
	if err != nil {
		// being_destroyed stays true; the next tick's reconcile/remove
		// retry leaves managers tolerating its transient absence.
		return false, fmt.Errorf("submgr: hypervisor delete failed for %s: %w", vm.Name(), err)
	}
	return true, nil
}

// RemoveByName looks vm up by name across the managers and removes it.
func (p *Pool) RemoveByName(ctx context.Context, name string) (bool, error) {
	vm := p.VMByName(name)
	if vm == nil {
		return false, nil
	}
	return p.Remove(ctx, vm)
}

// HasVM reports whether vm is present in every manager. A VM present in
// some but not all managers is an inconsistent state; it is logged and
// reported as present, since deploy/remove either run fully or roll back.
func (p *Pool) HasVM(vm *domain.Entity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, m := range p.managers {
		if m.HasVM(vm) {
			count++
		}
	}
	if count != 0 && count != len(p.managers) {
		log.Warn("vm %s unequally present across managers (%d/%d)", vm.Name(), count, len(p.managers))
	}
	return count > 0
}

// VMByName returns the VM with the given name from the first manager that
// has it, or nil.
func (p *Pool) VMByName(name string) *domain.Entity {
	p.mu.Lock()
	defer p.mu.Unlock()
	var found *domain.Entity
	count := 0
	for _, m := range p.managers {
		if vm := m.VMByName(name); vm != nil {
			found = vm
			count++
		}
	}
	if count != 0 && count != len(p.managers) {
		log.Warn("vm %s unequally present across managers (%d/%d)", name, count, len(p.managers))
	}
	return found
}

// Reconcile integrates every VM the hypervisor reports alive that the Pool
// does not yet know about (treated as an out-of-band deployment), per
// spec.md §4.7. The inverse direction (known-here, hypervisor-unaware) is
// detected per-subset inside UpdateMonitoring.
func (p *Pool) Reconcile(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
	handles, err := p.hv.ListAlive(callCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("submgr: failed to list alive vms: %w", err)
	}

	for _, h := range handles {
		descCtx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
		desc, err := p.hv.Describe(descCtx, h)
		cancel()
		if err != nil {
			if !errors.Is(err, hypervisor.ErrConsumerNotAlive) {
				log.Warn("failed to describe alive vm %s: %v", h.Name, err)
			}
			continue
		}

		vm, err := entityFromDescription(desc)
		if err != nil {
			log.Warn("skipping unintegrable vm %s: %v", h.Name, err)
			continue
		}
		if vm.BeingDestroyed() || p.HasVM(vm) {
			continue
		}

		ok, reason, err := p.Deploy(ctx, vm)
		if err != nil {
			log.Warn("out-of-band vm %s failed to integrate: %v", vm.Name(), err)
			continue
		}
		if !ok {
			log.Warn("out-of-band vm %s could not be integrated: %s", vm.Name(), reason)
			continue
		}
		log.Warn("vm %s deployed out of scope of this scheduler was integrated", vm.Name())
	}
	return nil
}

// entityFromDescription builds a domain.Entity for a VM discovered only
// through the hypervisor (reconcile path), recovering its CPU ratio from
// custom metadata and defaulting to 1 (no oversubscription) if absent.
func entityFromDescription(desc hypervisor.Description) (*domain.Entity, error) {
	ratio := 1.0
	if raw, ok := desc.CustomMetadata[cpuRatioMetadataKey]; ok {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			ratio = parsed
		}
	}
	memMB := int(desc.MaxMemKB / 1024)
	vm, err := domain.New(desc.Name, desc.MaxVCPUs, memMB, ratio)
	if err != nil {
		return nil, err
	}
	vm.SetUUID(desc.UUID)
	vm.SetDeployed(true)
	for k, v := range desc.CustomMetadata {
		vm.SetCustomMetadata(k, v)
	}
	return vm, nil
}

// Tick runs one scheduling round: reconcile out-of-band VMs, sample
// monitoring for every manager, shrink anything now oversized, and print
// status if it changed. timestamp orders monitoring samples; callers
// should pass a strictly increasing value (e.g. time.Now().Unix()).
func (p *Pool) Tick(ctx context.Context, timestamp int64) error {
	if err := p.Reconcile(ctx); err != nil {
		log.Warn("reconcile failed: %v", err)
	}

	p.mu.Lock()
	managers := append([]resourceManager(nil), p.managers...)
	p.mu.Unlock()

	for _, m := range managers {
		if _, err := m.UpdateMonitoring(ctx, timestamp); err != nil {
			log.Warn("%s monitoring failed: %v", m.ResourceName(), err)
		}
	}
	for _, m := range managers {
		m.ShrinkIdle()
	}
	p.emitStatusOnChange()
	return nil
}

func (p *Pool) emitStatusOnChange() {
	p.mu.Lock()
	var sb strings.Builder
	for _, m := range p.managers {
		sb.WriteString(m.String())
		sb.WriteString("\n")
	}
	status := sb.String()
	changed := status != p.prevStatus
	p.prevStatus = status
	p.mu.Unlock()
	if changed {
		log.Info("%s", status)
	}
}

// Run drives Tick on a fixed wall-clock cadence until ctx is cancelled. An
// iteration that overruns its period is logged and the next tick starts
// immediately rather than bursting to catch up, per spec.md §4.7.
func (p *Pool) Run(ctx context.Context, tickRate time.Duration) {
	next := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		if err := p.Tick(ctx, start.Unix()); err != nil {
			log.Warn("tick failed: %v", err)
		}
		elapsed := time.Since(start)

		next = next.Add(tickRate)
		if elapsed > tickRate {
			log.Warn("tick overran its %v period by %v", tickRate, elapsed-tickRate)
			next = time.Now()
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
	}
}
