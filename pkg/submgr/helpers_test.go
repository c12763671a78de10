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
	"testing"

	"github.com/jacquetpi/hostslack/pkg/sysfs"
	"github.com/jacquetpi/hostslack/pkg/utils/cpuset"
	"github.com/stretchr/testify/require"
)

// buildTestCpuSet builds an 8-cpu, 2-numa-node, 3-cache-level topology:
// cpus pair up for L1/L2 (SMT), and share L3 within a 4-cpu NUMA node.
func buildTestCpuSet(t *testing.T, n int) *sysfs.CpuSet {
	t.Helper()
	pairOf := func(id int) int { return id / 2 }
	nodeOf := func(id int) int { return id / 4 }

	cpus := make([]*sysfs.Cpu, 0, n)
	for id := 0; id < n; id++ {
		sibSMT := cpuset.New(pairOf(id)*2, pairOf(id)*2+1)
		levels := []int{pairOf(id), pairOf(id), nodeOf(id)}
		cpus = append(cpus, sysfs.NewCpu(id, nodeOf(id), sibSMT, cpuset.New(), levels, 0))
	}

	numaDistances := map[int]map[int]int{
		0: {0: 10, 1: 20},
		1: {0: 20, 1: 10},
	}
	cs, err := sysfs.NewCpuSet(cpus, numaDistances)
	require.NoError(t, err)
	return cs
}
