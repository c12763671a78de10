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

package sysfs

import (
	"encoding/json"
	"os"

	"github.com/jacquetpi/hostslack/pkg/utils/cpuset"
)

// snapshotCpu is the persisted form of one Cpu descriptor.
type snapshotCpu struct {
	ID         int    `json:"id"`
	NumaNode   int    `json:"numa_node"`
	SibSMT     string `json:"sibling_smt"`
	SibCPU     string `json:"sibling_cpu"`
	CacheLevel []int  `json:"cache_level"`
	MaxFreqKHz int64  `json:"max_freq_khz"`
}

// Snapshot is the persisted topology document: a frozen CpuSet/MemSet pair
// that lets the daemon start without re-walking sysfs, or run against a
// topology captured on a different host entirely.
type Snapshot struct {
	Cpus          []snapshotCpu    `json:"cpus"`
	NumaDistances map[int]map[int]int `json:"numa_distances"`
	TotalMB       int64            `json:"mem_total_mb"`
	AllowedMB     int64            `json:"mem_allowed_mb"`
}

// TakeSnapshot captures the current CpuSet/MemSet as a persistable Snapshot.
func TakeSnapshot(cs *CpuSet, mem *MemSet) Snapshot {
	snap := Snapshot{
		Cpus:          make([]snapshotCpu, 0, cs.Len()),
		NumaDistances: cs.numaDistances,
		TotalMB:       mem.TotalMB(),
		AllowedMB:     mem.AllowedMB(),
	}
	for _, c := range cs.CPUs() {
		snap.Cpus = append(snap.Cpus, snapshotCpu{
			ID:         c.ID(),
			NumaNode:   c.NumaNode(),
			SibSMT:     c.SibSMT().String(),
			SibCPU:     c.SibCPU().String(),
			CacheLevel: append([]int(nil), c.cacheLevel...),
			MaxFreqKHz: c.MaxFreqKHz(),
		})
	}
	return snap
}

// WriteSnapshotFile serializes the snapshot as indented JSON to path.
func WriteSnapshotFile(path string, snap Snapshot) error {
	blob, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return sysfsError(path, "failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return sysfsError(path, "failed to write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshotFile reads a previously written snapshot and rebuilds the
// immutable CpuSet/MemSet pair from it, without touching sysfs at all.
func LoadSnapshotFile(path string) (*CpuSet, *MemSet, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, sysfsError(path, "failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, nil, sysfsError(path, "failed to parse snapshot: %w", err)
	}

	cpus := make([]*Cpu, 0, len(snap.Cpus))
	for _, sc := range snap.Cpus {
		sibSMT, err := cpuset.Parse(sc.SibSMT)
		if err != nil {
			return nil, nil, sysfsError(path, "invalid sibling_smt for cpu %d: %w", sc.ID, err)
		}
		sibCPU, err := cpuset.Parse(sc.SibCPU)
		if err != nil {
			return nil, nil, sysfsError(path, "invalid sibling_cpu for cpu %d: %w", sc.ID, err)
		}
		cpus = append(cpus, NewCpu(sc.ID, sc.NumaNode, sibSMT, sibCPU, sc.CacheLevel, sc.MaxFreqKHz))
	}

	cs, err := NewCpuSet(cpus, snap.NumaDistances)
	if err != nil {
		return nil, nil, err
	}
	mem := &MemSet{totalMB: snap.TotalMB, allowedMB: snap.AllowedMB}
	return cs, mem, nil
}
