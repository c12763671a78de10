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

package cpuexplorer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jacquetpi/hostslack/pkg/sysfs"
	"github.com/jacquetpi/hostslack/pkg/utils/cpuset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStat(t *testing.T, dir string, lines []string) {
	t.Helper()
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(content), 0o644))
}

func twoCpuSet(t *testing.T) *sysfs.CpuSet {
	t.Helper()
	c0 := sysfs.NewCpu(0, 0, cpuset.New(), cpuset.New(), []int{0}, 0)
	c1 := sysfs.NewCpu(1, 0, cpuset.New(), cpuset.New(), []int{0}, 0)
	cs, err := sysfs.NewCpuSet([]*sysfs.Cpu{c0, c1}, map[int]map[int]int{0: {0: 10}})
	require.NoError(t, err)
	return cs
}

func TestSampleFirstTickHasNoUsage(t *testing.T) {
	dir := t.TempDir()
	writeStat(t, dir, []string{
		"cpu  100 0 100 800 0 0 0 0 0 0",
		"cpu0 50 0 50 400 0 0 0 0 0 0",
		"cpu1 50 0 50 400 0 0 0 0 0 0",
	})

	cs := twoCpuSet(t)
	usage, err := New(dir).Sample(cs)
	require.NoError(t, err)
	assert.Empty(t, usage)
}

func TestSampleComputesDelta(t *testing.T) {
	dir := t.TempDir()
	writeStat(t, dir, []string{
		"cpu  0 0 0 0 0 0 0 0 0 0",
		"cpu0 0 0 0 1000 0 0 0 0 0 0",
		"cpu1 0 0 0 1000 0 0 0 0 0 0",
	})
	cs := twoCpuSet(t)
	_, err := New(dir).Sample(cs)
	require.NoError(t, err)

	writeStat(t, dir, []string{
		"cpu  0 0 0 0 0 0 0 0 0 0",
		"cpu0 250 0 0 1000 0 0 0 0 0 0",
		"cpu1 0 0 0 2000 0 0 0 0 0 0",
	})
	usage, err := New(dir).Sample(cs)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, usage[0], 0.001)
	assert.InDelta(t, 0.0, usage[1], 0.001)
}

func TestGlobalMeanUsage(t *testing.T) {
	mean, ok := Global(map[int]float64{0: 0.2, 1: 0.6})
	require.True(t, ok)
	assert.InDelta(t, 0.4, mean, 0.0001)

	_, ok = Global(nil)
	assert.False(t, ok)
}
