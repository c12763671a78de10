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

	"github.com/jacquetpi/hostslack/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionAddRejectsDuplicateID(t *testing.T) {
	c := NewCollection()
	require.NoError(t, c.Add(1.0, NewCpuSubset(1.0, nil, nil)))
	assert.Error(t, c.Add(1.0, NewCpuSubset(1.0, nil, nil)))
}

func TestCollectionHasVMAcrossSubsets(t *testing.T) {
	c := NewCollection()
	s1 := NewCpuSubset(1.0, nil, nil)
	require.NoError(t, s1.AddCPU(sysfsCpuStub(t, 0)))
	require.NoError(t, c.Add(1.0, s1))

	vm, err := domain.New("vm1", 1, 512, 1.0)
	require.NoError(t, err)
	ok, err := s1.Deploy(vm)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, c.HasVM(vm))
	found := c.VMByName("vm1")
	require.NotNil(t, found)
	assert.Equal(t, "vm1", found.Name())
}

func TestCollectionCapacitySumsSubsets(t *testing.T) {
	c := NewCollection()
	s1 := NewCpuSubset(1.0, nil, nil)
	require.NoError(t, s1.AddCPU(sysfsCpuStub(t, 0)))
	s2 := NewCpuSubset(3.0, nil, nil)
	require.NoError(t, s2.AddCPU(sysfsCpuStub(t, 1)))
	require.NoError(t, s2.AddCPU(sysfsCpuStub(t, 2)))

	require.NoError(t, c.Add(1.0, s1))
	require.NoError(t, c.Add(3.0, s2))
	assert.Equal(t, 3, c.Capacity())
}
