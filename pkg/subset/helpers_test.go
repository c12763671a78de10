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

package subset

import (
	"testing"

	"github.com/jacquetpi/hostslack/pkg/sysfs"
	"github.com/jacquetpi/hostslack/pkg/utils/cpuset"
)

// sysfsCpuStub builds a minimal standalone Cpu for subset-level tests that
// do not exercise the distance metric.
func sysfsCpuStub(t *testing.T, id int) *sysfs.Cpu {
	t.Helper()
	return sysfs.NewCpu(id, 0, cpuset.New(), cpuset.New(), []int{0}, 0)
}
