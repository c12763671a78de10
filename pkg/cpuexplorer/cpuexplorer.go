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

// Package cpuexplorer samples per-CPU usage from /proc/stat and feeds it
// into the host topology's time samples, so subsets can report monitored
// usage without the scheduler itself parsing kernel jiffy counters.
package cpuexplorer

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jacquetpi/hostslack/pkg/sysfs"

	logger "github.com/jacquetpi/hostslack/pkg/log"
)

var log = logger.NewLogger("cpuexplorer")

// statFields indexes the whitespace-separated fields of a /proc/stat "cpuN"
// line, per https://www.kernel.org/doc/Documentation/filesystems/proc.txt.
const (
	fieldUser = iota
	fieldNice
	fieldSystem
	fieldIdle
	fieldIowait
	fieldIRQ
	fieldSoftIRQ
	fieldSteal
)

// Explorer samples /proc/stat on demand and updates Cpu time samples.
type Explorer struct {
	procRoot string
}

// New returns an Explorer reading /proc/stat under procRoot.
func New(procRoot string) *Explorer {
	return &Explorer{procRoot: procRoot}
}

// Sample reads /proc/stat once and updates the time sample of every CPU in
// cs, returning the per-CPU usage fraction computed against each CPU's
// previous sample. A CPU with no previous sample (first tick, or one that
// just changed Subset membership) is omitted from the result.
func (e *Explorer) Sample(cs *sysfs.CpuSet) (map[int]float64, error) {
	path := filepath.Join(e.procRoot, "stat")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cpuexplorer: failed to open %s: %w", path, err)
	}
	defer f.Close()

	usage := make(map[int]float64)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "cpu") || strings.HasPrefix(line, "cpu ") {
			continue // skip the aggregate "cpu " line and any trailing section
		}

		fields := strings.Fields(line)
		id, err := strconv.Atoi(strings.TrimPrefix(fields[0], "cpu"))
		if err != nil {
			continue
		}
		c := cs.CPU(id)
		if c == nil {
			continue // not part of the effective (included/excluded) set
		}

		counts := fields[1:]
		if len(counts) <= fieldSteal {
			return nil, fmt.Errorf("cpuexplorer: short stat line for cpu%d", id)
		}

		idle, err := sumFields(counts, fieldIdle, fieldIowait)
		if err != nil {
			return nil, err
		}
		nonIdle, err := sumFields(counts, fieldUser, fieldNice, fieldSystem, fieldIRQ, fieldSoftIRQ, fieldSteal)
		if err != nil {
			return nil, err
		}

		cur := sysfs.TimeSample{Idle: idle, NonIdle: nonIdle}
		prev, had := c.SetSample(cur)
		if !had {
			continue
		}
		if frac, ok := cur.Usage(prev); ok {
			usage[id] = frac
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cpuexplorer: failed to read %s: %w", path, err)
	}

	return usage, nil
}

// Global returns the mean usage fraction across the given per-CPU usage map,
// or (0, false) if it is empty.
func Global(usage map[int]float64) (float64, bool) {
	if len(usage) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range usage {
		sum += v
	}
	return sum / float64(len(usage)), true
}

func sumFields(fields []string, idx ...int) (uint64, error) {
	var sum uint64
	for _, i := range idx {
		v, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cpuexplorer: invalid stat field %q: %w", fields[i], err)
		}
		sum += v
	}
	return sum, nil
}
