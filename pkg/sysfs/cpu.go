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
	"sync"

	"github.com/jacquetpi/hostslack/pkg/utils/cpuset"
)

// TimeSample is a pair of cumulative (idle, non-idle) tick counts, used to
// compute a delta-based usage fraction between two observations. It is
// deliberately excluded from topology snapshots: it is transient live state,
// not part of the immutable topology.
type TimeSample struct {
	Idle, NonIdle uint64
}

// Usage returns the non-idle fraction observed between two samples. It
// returns (0, false) if either sample is stale (no tick elapsed) to avoid a
// division by zero.
func (cur TimeSample) Usage(prev TimeSample) (float64, bool) {
	dIdle := int64(cur.Idle) - int64(prev.Idle)
	dBusy := int64(cur.NonIdle) - int64(prev.NonIdle)
	total := dIdle + dBusy
	if total <= 0 {
		return 0, false
	}
	return float64(dBusy) / float64(total), true
}

// Cpu is an immutable physical core descriptor, save for its mutable
// time_sample used for Δ-based usage accounting.
type Cpu struct {
	id         int
	numaNode   int
	sibSMT     cpuset.CPUSet // SMT siblings, excluding self
	sibCPU     cpuset.CPUSet // socket siblings, excluding self
	cacheLevel []int         // cache unit id per cache level index, innermost first
	maxFreqKHz int64

	mu     sync.Mutex
	sample *TimeSample
}

// NewCpu constructs an immutable Cpu descriptor.
func NewCpu(id, numaNode int, sibSMT, sibCPU cpuset.CPUSet, cacheLevel []int, maxFreqKHz int64) *Cpu {
	return &Cpu{
		id:         id,
		numaNode:   numaNode,
		sibSMT:     sibSMT.Difference(cpuset.New(id)),
		sibCPU:     sibCPU.Difference(cpuset.New(id)),
		cacheLevel: append([]int(nil), cacheLevel...),
		maxFreqKHz: maxFreqKHz,
	}
}

func (c *Cpu) ID() int                  { return c.id }
func (c *Cpu) NumaNode() int            { return c.numaNode }
func (c *Cpu) SibSMT() cpuset.CPUSet    { return c.sibSMT }
func (c *Cpu) SibCPU() cpuset.CPUSet    { return c.sibCPU }
func (c *Cpu) MaxFreqKHz() int64        { return c.maxFreqKHz }
func (c *Cpu) CacheLevels() int         { return len(c.cacheLevel) }
func (c *Cpu) CacheID(level int) int    { return c.cacheLevel[level] }

// SetSample records the latest cumulative tick counts observed for this
// CPU, returning the previous sample (if any) so the caller can compute a
// usage delta.
func (c *Cpu) SetSample(s TimeSample) (prev TimeSample, hadPrev bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sample != nil {
		prev, hadPrev = *c.sample, true
	}
	cp := s
	c.sample = &cp
	return prev, hadPrev
}

// ClearSample discards the CPU's time sample. Called whenever a CPU changes
// Subset membership, since a usage delta spanning a membership change is
// meaningless.
func (c *Cpu) ClearSample() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sample = nil
}

// Sample returns the last recorded time sample, if any.
func (c *Cpu) Sample() (TimeSample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sample == nil {
		return TimeSample{}, false
	}
	return *c.sample, true
}
