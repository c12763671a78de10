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
	"context"
	"testing"

	"github.com/jacquetpi/hostslack/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemSubsetAddRangeRejectsOverlap(t *testing.T) {
	s := NewMemSubset(nil, nil)
	require.NoError(t, s.AddRange(Range{Lo: 0, Hi: 1024}))
	assert.Error(t, s.AddRange(Range{Lo: 512, Hi: 2048}))
	assert.Error(t, s.AddRange(Range{Lo: 1024, Hi: 1024}))
}

func TestMemSubsetAddRangeAcceptsAdjacent(t *testing.T) {
	s := NewMemSubset(nil, nil)
	require.NoError(t, s.AddRange(Range{Lo: 0, Hi: 1024}))
	require.NoError(t, s.AddRange(Range{Lo: 1024, Hi: 2048}))
	assert.Equal(t, 2048, s.Capacity())
}

func TestMemSubsetRemoveRangeRequiresExactMatch(t *testing.T) {
	s := NewMemSubset(nil, nil)
	require.NoError(t, s.AddRange(Range{Lo: 0, Hi: 1024}))
	assert.Error(t, s.RemoveRange(Range{Lo: 0, Hi: 2048}))
	assert.NoError(t, s.RemoveRange(Range{Lo: 0, Hi: 1024}))
	assert.Equal(t, 0, s.Capacity())
}

func TestMemSubsetDeployAndAvailability(t *testing.T) {
	s := NewMemSubset(nil, nil)
	require.NoError(t, s.AddRange(Range{Lo: 0, Hi: 1024}))

	vm, err := domain.New("vm", 1, 2048, 1.0)
	require.NoError(t, err)
	ok, err := s.Deploy(vm)
	require.NoError(t, err)
	assert.False(t, ok)

	vm2, err := domain.New("vm2", 1, 512, 1.0)
	require.NoError(t, err)
	ok, err = s.Deploy(vm2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 512, s.Allocation())
}

func TestMemSubsetUpdateMonitoringNoHypervisor(t *testing.T) {
	s := NewMemSubset(nil, nil)
	require.NoError(t, s.AddRange(Range{Lo: 0, Hi: 1024}))
	vm, err := domain.New("vm", 1, 512, 1.0)
	require.NoError(t, err)
	ok, err := s.Deploy(vm)
	require.NoError(t, err)
	require.True(t, ok)

	cleanNeeded, err := s.UpdateMonitoring(context.Background(), 1, "mem-1.0")
	require.NoError(t, err)
	assert.False(t, cleanNeeded)
}
