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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jacquetpi/hostslack/pkg/utils/cpuset"
	idset "github.com/intel/goresctrl/pkg/utils"
)

// readInt reads a sysfs entry and parses it as a base-0 integer (so "0x..."
// and "0..." prefixes are honored, matching what the kernel itself emits).
func readInt(base, entry string) (int64, error) {
	path := filepath.Join(base, entry)
	blob, err := os.ReadFile(path)
	if err != nil {
		return 0, sysfsError(path, "failed to read: %w", err)
	}
	str := strings.TrimSpace(string(blob))
	v, err := strconv.ParseInt(str, 0, 64)
	if err != nil {
		return 0, sysfsError(path, "invalid entry %q: %w", str, err)
	}
	return v, nil
}

// readString reads a sysfs entry as a trimmed string.
func readString(base, entry string) (string, error) {
	path := filepath.Join(base, entry)
	blob, err := os.ReadFile(path)
	if err != nil {
		return "", sysfsError(path, "failed to read: %w", err)
	}
	return strings.TrimSpace(string(blob)), nil
}

// readIDList reads a sysfs entry holding a kernel CPU/node list
// ("a,b,c" and "a-b" ranges) and returns it as an IDSet.
//
// Kernel documentation describes these ranges as inclusive; this parser
// uses an inclusive loop accordingly.
func readIDList(base, entry string) (idset.IDSet, error) {
	path := filepath.Join(base, entry)
	str, err := readString(base, entry)
	if err != nil {
		return nil, err
	}
	set, err := parseIDList(str)
	if err != nil {
		return nil, sysfsError(path, "%w", err)
	}
	return set, nil
}

func parseIDList(str string) (idset.IDSet, error) {
	set := idset.NewIDSet()
	for _, s := range strings.Split(str, ",") {
		if s == "" {
			continue
		}
		if rng := strings.Split(s, "-"); len(rng) == 1 {
			id, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("invalid entry %q: %w", s, err)
			}
			set.Add(idset.ID(id))
		} else {
			beg, err := strconv.Atoi(rng[0])
			if err != nil {
				return nil, fmt.Errorf("invalid entry %q: %w", s, err)
			}
			end, err := strconv.Atoi(rng[1])
			if err != nil {
				return nil, fmt.Errorf("invalid entry %q: %w", s, err)
			}
			for id := beg; id <= end; id++ {
				set.Add(idset.ID(id))
			}
		}
	}
	return set, nil
}

// readIntVector reads a sysfs entry holding a whitespace-separated vector
// of integers (used for the per-node NUMA distance row).
func readIntVector(base, entry string) ([]int, error) {
	path := filepath.Join(base, entry)
	str, err := readString(base, entry)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(str)
	vec := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, sysfsError(path, "invalid entry %q: %w", f, err)
		}
		vec = append(vec, v)
	}
	return vec, nil
}

// cpuSetFromIDSet converts an IDSet of CPU ids into a cpuset.CPUSet.
func cpuSetFromIDSet(s idset.IDSet) cpuset.CPUSet {
	return cpuset.New(s.Members()...)
}

// GetMemoryCapacity parses MemTotal (kB) from /proc/meminfo under procRoot,
// returning bytes, or -1 if the entry cannot be found or parsed.
func GetMemoryCapacity(procRoot string) int64 {
	data, err := os.ReadFile(filepath.Join(procRoot, "meminfo"))
	if err != nil {
		return -1
	}

	for _, line := range strings.Split(string(data), "\n") {
		keyval := strings.SplitN(line, ":", 2)
		if len(keyval) != 2 || keyval[0] != "MemTotal" {
			continue
		}

		valunit := strings.Fields(keyval[1])
		if len(valunit) != 2 || valunit[1] != "kB" {
			return -1
		}

		capa, err := strconv.ParseInt(valunit[0], 10, 64)
		if err != nil {
			return -1
		}

		return capa * 1024
	}

	return -1
}
