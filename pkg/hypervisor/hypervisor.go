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

// Package hypervisor defines the collaborator boundary between the
// scheduler core and the virtualization control plane: domain lookup, vcpu
// pinning, lifecycle, and usage sampling. A real libvirt-backed
// implementation lives outside this repository; only the interface and a
// noop stand-in for tests and hypervisor-less operation live here.
package hypervisor

import (
	"context"
	"errors"

	"github.com/jacquetpi/hostslack/pkg/utils/cpuset"
)

// ErrConsumerNotAlive is the sentinel every Hypervisor call returns when the
// targeted VM is no longer running (or never was). Callers use errors.Is to
// skip the consumer without aborting the surrounding iteration.
var ErrConsumerNotAlive = errors.New("hypervisor: consumer not alive")

// Handle opaquely identifies a VM as known to the hypervisor, independent
// of whether it has been converted to a domain.Entity yet.
type Handle struct {
	UUID string
	Name string
}

// Description is the result of describing a hypervisor domain.
type Description struct {
	UUID           string
	Name           string
	MaxMemKB       int64
	MaxVCPUs       int
	VCPUPinInfo    map[int]cpuset.CPUSet
	CustomMetadata map[string]string
	// MetadataDefaulted is true when CustomMetadata was absent on the domain
	// and defaults were generated and written back, per spec.md §6.
	MetadataDefaulted bool
}

// Spec is the resource request needed to create a new domain.
type Spec struct {
	Name     string
	MemMB    int64
	VCPUs    int
	CPURatio float64
}

// Hypervisor is the collaborator interface the scheduler core depends on.
// Every method takes a context so a hung call can be bounded by the
// caller's timeout rather than blocking the tick loop indefinitely.
type Hypervisor interface {
	ListAlive(ctx context.Context) ([]Handle, error)
	ListDefined(ctx context.Context) ([]Handle, error)
	Describe(ctx context.Context, h Handle) (Description, error)
	Pin(ctx context.Context, uuid string, cpus cpuset.CPUSet) error
	Create(ctx context.Context, spec Spec) (uuid string, err error)
	Delete(ctx context.Context, uuid string) error
	UsageCPU(ctx context.Context, uuid string) (float64, error)
	UsageMem(ctx context.Context, uuid string) (float64, error)
}
