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

// Package sysfs discovers host CPU/NUMA/memory topology from the Linux
// sysfs and procfs trees and builds the immutable CpuSet/MemSet model used
// by the rest of the scheduler.
package sysfs

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jacquetpi/hostslack/pkg/utils/cpuset"

	logger "github.com/jacquetpi/hostslack/pkg/log"
)

var log = logger.NewLogger("sysfs")

// Options configures topology discovery.
type Options struct {
	// SysRoot is the root of the sysfs tree, normally "/sys".
	SysRoot string
	// ProcRoot is the root of the procfs tree, normally "/proc".
	ProcRoot string
	// Include, if non-empty, restricts discovery to these cpu ids.
	Include cpuset.CPUSet
	// Exclude removes these cpu ids from discovery.
	Exclude cpuset.CPUSet
	// PrivateReserveMB is subtracted once from total memory to obtain
	// MemSet.AllowedMB.
	PrivateReserveMB int64
}

// DefaultOptions returns discovery options pointed at the live host.
func DefaultOptions() Options {
	return Options{SysRoot: "/sys", ProcRoot: "/proc"}
}

// Discover reads host topology and returns the immutable CpuSet and MemSet.
// Any missing expected file or unparsable integer is a configuration-fatal
// error (aborts startup, per the error taxonomy), except a missing
// cpufreq/cpuinfo_max_freq, which leaves the CPU's max frequency at 0.
func Discover(opts Options) (*CpuSet, *MemSet, error) {
	cpuRoot := filepath.Join(opts.SysRoot, "devices/system/cpu")

	found, err := discoverCPUIDs(cpuRoot)
	if err != nil {
		return nil, nil, err
	}

	effective := found
	if !opts.Exclude.IsEmpty() {
		effective = effective.Difference(opts.Exclude)
	}
	if !opts.Include.IsEmpty() {
		effective = effective.Intersection(opts.Include)
	}

	ids := effective.List()
	sort.Ints(ids)

	cpus := make([]*Cpu, 0, len(ids))
	for _, id := range ids {
		c, err := discoverCPU(cpuRoot, id)
		if err != nil {
			return nil, nil, err
		}
		cpus = append(cpus, c)
	}

	numaDistances, err := discoverNumaDistances(filepath.Join(opts.SysRoot, "devices/system/node"))
	if err != nil {
		return nil, nil, err
	}

	cs, err := NewCpuSet(cpus, numaDistances)
	if err != nil {
		return nil, nil, err
	}

	totalBytes := GetMemoryCapacity(opts.ProcRoot)
	if totalBytes < 0 {
		return nil, nil, sysfsError(opts.ProcRoot, "failed to determine memory capacity")
	}
	mem := NewMemSet(totalBytes/(1024*1024), opts.PrivateReserveMB)

	log.Info("discovered %d cpus, %d MB allowed memory", cs.Len(), mem.AllowedMB())

	return cs, mem, nil
}

// discoverCPUIDs enumerates the online CPU ids present directly under
// cpuRoot (cpu0, cpu1, ...).
func discoverCPUIDs(cpuRoot string) (cpuset.CPUSet, error) {
	entries, err := os.ReadDir(cpuRoot)
	if err != nil {
		return cpuset.New(), sysfsError(cpuRoot, "failed to list cpus: %w", err)
	}

	ids := []int{}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "cpu") {
			continue
		}
		idStr := strings.TrimPrefix(e.Name(), "cpu")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue // not cpuN (e.g. cpuidle, cpufreq)
		}
		if _, err := os.Stat(filepath.Join(cpuRoot, e.Name(), "topology")); err != nil {
			continue // present but not a real CPU (offline stub directories)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return cpuset.New(), sysfsError(cpuRoot, "no cpus found")
	}
	return cpuset.New(ids...), nil
}

// discoverCPU reads one CPU's topology and cache hierarchy.
func discoverCPU(cpuRoot string, id int) (*Cpu, error) {
	base := filepath.Join(cpuRoot, "cpu"+strconv.Itoa(id))
	topo := filepath.Join(base, "topology")

	numaNode, err := readInt(topo, "physical_package_id")
	if err != nil {
		return nil, err
	}

	sibSMT, err := readIDList(topo, "thread_siblings_list")
	if err != nil {
		return nil, err
	}
	sibCPU, err := readIDList(topo, "core_siblings_list")
	if err != nil {
		return nil, err
	}

	cacheLevel, err := discoverCacheLevels(base)
	if err != nil {
		return nil, err
	}

	maxFreq, err := readInt(filepath.Join(base, "cpufreq"), "cpuinfo_max_freq")
	if err != nil {
		// Not every CPU (e.g. in containers/VMs) exposes cpufreq; a missing
		// scaling driver is not grounds to abort discovery of topology.
		maxFreq = 0
	}

	return NewCpu(id, int(numaNode), cpuSetFromIDSet(sibSMT), cpuSetFromIDSet(sibCPU), cacheLevel, maxFreq), nil
}

// discoverCacheLevels reads cache/indexN/id for N = 0, 1, 2, ... until the
// first missing index, per the topology source contract.
func discoverCacheLevels(cpuBase string) ([]int, error) {
	cacheRoot := filepath.Join(cpuBase, "cache")
	levels := []int{}
	for n := 0; ; n++ {
		idxDir := filepath.Join(cacheRoot, "index"+strconv.Itoa(n))
		if _, err := os.Stat(idxDir); err != nil {
			break
		}
		id, err := readInt(idxDir, "id")
		if err != nil {
			return nil, err
		}
		levels = append(levels, int(id))
	}
	return levels, nil
}

// discoverNumaDistances reads node<k>/distance for every node directory
// found under nodeRoot.
func discoverNumaDistances(nodeRoot string) (map[int]map[int]int, error) {
	entries, err := os.ReadDir(nodeRoot)
	if err != nil {
		return nil, sysfsError(nodeRoot, "failed to list nodes: %w", err)
	}

	distances := make(map[int]map[int]int)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "node") {
			continue
		}
		idStr := strings.TrimPrefix(e.Name(), "node")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		base := filepath.Join(nodeRoot, e.Name())
		if _, err := os.Stat(filepath.Join(base, "distance")); err != nil {
			continue
		}
		vec, err := readIntVector(base, "distance")
		if err != nil {
			return nil, err
		}
		row := make(map[int]int, len(vec))
		for peer, d := range vec {
			row[peer] = d
		}
		distances[id] = row
	}
	if len(distances) == 0 {
		return nil, sysfsError(nodeRoot, "no NUMA nodes found")
	}
	return distances, nil
}
