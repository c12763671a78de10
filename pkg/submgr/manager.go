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

// Package submgr implements the placement state machine: one SubsetManager
// per resource kind (CPU, memory), and the Pool that coordinates both
// atomically and drives the scheduler's tick loop.
package submgr

import (
	"context"
	"sort"
	"time"

	"github.com/jacquetpi/hostslack/pkg/domain"
	"github.com/jacquetpi/hostslack/pkg/subset"

	logger "github.com/jacquetpi/hostslack/pkg/log"
)

var log = logger.NewLogger("submgr")

// collaboratorTimeout bounds every hypervisor call issued directly by the
// Pool (create, delete, describe), mirroring the per-call timeout already
// enforced inside pkg/subset.
const collaboratorTimeout = 2 * time.Second

// resourceManager is the uniform surface the Pool drives both SubsetManager
// implementations through.
type resourceManager interface {
	ResourceName() string
	Deploy(vm *domain.Entity) (bool, error)
	Remove(vm *domain.Entity) (bool, error)
	HasVM(vm *domain.Entity) bool
	VMByName(name string) *domain.Entity
	UpdateMonitoring(ctx context.Context, timestamp int64) (bool, error)
	ShrinkIdle()
	Subsets() []subset.Subset
	String() string
}

// ManagerStats is the read-only surface pkg/metrics polls a resource
// manager through. Exported (rather than kept as an anonymous interface) so
// pkg/metrics can name it in its own Source interface without introducing a
// dependency cycle: pkg/metrics imports pkg/submgr, never the reverse.
type ManagerStats interface {
	ResourceName() string
	Capacity() int
	Subsets() []subset.Subset
}

// Managers returns the Pool's resource managers as ManagerStats, the
// surface pkg/metrics collects from.
func (p *Pool) Managers() []ManagerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ManagerStats, 0, len(p.managers))
	for _, m := range p.managers {
		if cm, ok := m.(ManagerStats); ok {
			out = append(out, cm)
		}
	}
	return out
}

// weighted orders distinct candidate ids by their associated weight,
// ascending or descending, tie-broken by id ascending for determinism.
func weighted(weights map[int]float64, descending bool) []int {
	ids := make([]int, 0, len(weights))
	for id := range weights {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		wi, wj := weights[ids[i]], weights[ids[j]]
		if wi != wj {
			if descending {
				return wi > wj
			}
			return wi < wj
		}
		return ids[i] < ids[j]
	})
	return ids
}
